package booking

import (
	"context"

	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/logging"
)

// Notifier receives appointment lifecycle events. Delivery is best-effort;
// implementations must not block booking operations.
type Notifier interface {
	AppointmentCreated(ctx context.Context, appt *domain.Appointment)
	AppointmentStatusChanged(ctx context.Context, appt *domain.Appointment, from domain.AppointmentStatus)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) AppointmentCreated(context.Context, *domain.Appointment) {}
func (NopNotifier) AppointmentStatusChanged(context.Context, *domain.Appointment, domain.AppointmentStatus) {
}

// LogNotifier emits structured log lines for each event. It stands in for an
// email or push channel; swapping delivery means swapping this type.
type LogNotifier struct {
	logger *logging.Logger
}

func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) AppointmentCreated(_ context.Context, appt *domain.Appointment) {
	n.logger.WithFields(map[string]interface{}{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"client_id":      appt.ClientID,
		"date":           appt.Date,
		"start_time":     appt.StartTime,
	}).Info("notify: new appointment requested")
}

func (n *LogNotifier) AppointmentStatusChanged(_ context.Context, appt *domain.Appointment, from domain.AppointmentStatus) {
	n.logger.WithFields(map[string]interface{}{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"client_id":      appt.ClientID,
		"from":           from.String(),
		"to":             appt.Status.String(),
	}).Info("notify: appointment status changed")
}
