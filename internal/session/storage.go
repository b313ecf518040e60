package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/supabase"
)

// Snapshot is the persisted portion of a session. It carries enough to
// resume without re-prompting for credentials; the profile is cached but
// always re-validated against the backend on restore.
type Snapshot struct {
	Identity     *domain.Identity `json:"identity,omitempty"`
	Profile      *domain.Profile  `json:"profile,omitempty"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresAt    time.Time        `json:"expires_at"`
	SavedAt      time.Time        `json:"saved_at"`
}

// Storage persists session snapshots across restarts. Implementations must
// tolerate concurrent use from the store's goroutines.
type Storage interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Clear(ctx context.Context) error
}

// FileStorage keeps the snapshot in a mode-0600 JSON file.
type FileStorage struct {
	path string
}

// NewFileStorage creates file-backed storage at path. Parent directories are
// created on first save.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt snapshot is treated as absent rather than fatal.
		return nil, nil
	}
	return &snap, nil
}

func (f *FileStorage) Save(_ context.Context, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	// Write-then-rename so a crash mid-save never leaves a torn file.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStorage) Clear(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// snapshot persistence hooks used by the store. Errors are logged and
// swallowed: persistence is best-effort and never blocks auth transitions.

func (s *Store) loadSnapshot(ctx context.Context) *Snapshot {
	if s.storage == nil {
		return nil
	}
	snap, err := s.storage.Load(ctx)
	if err != nil {
		s.log().WithError(err).Warn("failed to load session snapshot")
		return nil
	}
	return snap
}

func (s *Store) saveSnapshot(ctx context.Context, authSession *supabase.AuthSession, profile *domain.Profile) {
	if s.storage == nil {
		return
	}
	snap := &Snapshot{
		Identity: &domain.Identity{
			ID:    authSession.User.ID,
			Email: authSession.User.Email,
		},
		Profile:      profile,
		AccessToken:  authSession.AccessToken,
		RefreshToken: authSession.RefreshToken,
		ExpiresAt:    authSession.ExpiresAt(),
		SavedAt:      time.Now().UTC(),
	}
	if err := s.storage.Save(ctx, snap); err != nil {
		s.log().WithError(err).Warn("failed to save session snapshot")
	}
}

func (s *Store) clearSnapshot(ctx context.Context) {
	if s.storage == nil {
		return
	}
	if err := s.storage.Clear(ctx); err != nil {
		s.log().WithError(err).Warn("failed to clear session snapshot")
	}
}
