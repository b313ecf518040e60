package domain

import (
	"fmt"
	"strings"
	"time"
)

// Identity is the externally issued authentication record for a user.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Profile is the application-level record associated 1:1 with an Identity.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Business is a bookable business listing owned by a business-role profile.
type Business struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Address     string    `json:"address,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Email       string    `json:"email,omitempty"`
	OwnerID     string    `json:"owner_id"`
	LogoURL     string    `json:"logo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Service is a bookable service offered by a business.
type Service struct {
	ID              string    `json:"id"`
	BusinessID      string    `json:"business_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	DurationMinutes int       `json:"duration"`
	Price           float64   `json:"price"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// ParseStatus normalizes s to a canonical AppointmentStatus.
func ParseStatus(s string) (AppointmentStatus, error) {
	switch AppointmentStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusConfirmed:
		return StatusConfirmed, nil
	case StatusCancelled:
		return StatusCancelled, nil
	case StatusCompleted:
		return StatusCompleted, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

func (s AppointmentStatus) String() string { return string(s) }

// CanTransition reports whether a status change is legal. Cancelled and
// completed are terminal.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	}
	return false
}

// Appointment links a client, a business, a service, a date/time interval,
// and a status. client_id/business_id are the authorization anchor.
type Appointment struct {
	ID         string            `json:"id"`
	ClientID   string            `json:"client_id"`
	BusinessID string            `json:"business_id"`
	ServiceID  string            `json:"service_id,omitempty"`
	Date       string            `json:"date"`       // YYYY-MM-DD
	StartTime  string            `json:"start_time"` // HH:MM:SS
	EndTime    string            `json:"end_time"`   // HH:MM:SS
	Status     AppointmentStatus `json:"status"`
	Notes      string            `json:"notes,omitempty"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
}
