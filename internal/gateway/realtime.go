package gateway

import (
	"context"
	"encoding/json"

	"github.com/snagbook/snag/internal/booking"
	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/logging"
	"github.com/snagbook/snag/supabase"
)

// Watcher streams appointment changes from the backend and forwards them to
// the notifier, so bookings written by other writers (a mobile app, the
// dashboard SQL editor) still produce notifications from this gateway.
type Watcher struct {
	client   *supabase.RealtimeClient
	notifier booking.Notifier
	logger   *logging.Logger
	channel  *supabase.Channel
}

func NewWatcher(client *supabase.RealtimeClient, notifier booking.Notifier, logger *logging.Logger) *Watcher {
	return &Watcher{
		client:   client,
		notifier: notifier,
		logger:   logger,
	}
}

// Start connects and subscribes to appointment table changes.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.client.Connect(ctx); err != nil {
		return err
	}

	channel, err := w.client.SubscribeToPostgresChanges(ctx, supabase.PostgresChangesConfig{
		Event: "*",
		Table: "appointments",
	}, w.handleChange)
	if err != nil {
		_ = w.client.Disconnect()
		return err
	}
	w.channel = channel
	w.logger.Info("watching appointment changes")
	return nil
}

// Stop unsubscribes and drops the connection.
func (w *Watcher) Stop(ctx context.Context) {
	if w.channel != nil {
		_ = w.channel.Unsubscribe(ctx)
	}
	_ = w.client.Disconnect()
}

func (w *Watcher) handleChange(event *supabase.RealtimeEvent) {
	record := event.Record()
	if record == nil {
		return
	}
	var appt domain.Appointment
	if err := json.Unmarshal(record, &appt); err != nil {
		w.logger.WithError(err).Debug("unparseable appointment change")
		return
	}

	ctx := context.Background()
	switch event.ChangeType() {
	case "INSERT":
		w.notifier.AppointmentCreated(ctx, &appt)
	case "UPDATE":
		// The previous status is not part of the payload; report the
		// current one and let consumers diff if they care.
		w.notifier.AppointmentStatusChanged(ctx, &appt, appt.Status)
	}
}
