package booking

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/logging"
	"github.com/snagbook/snag/internal/metrics"
)

// Sweeper retires past-dated appointments on a cron schedule: confirmed rows
// become completed, pending rows that were never confirmed become cancelled.
// Dashboards and availability views stay free of stale rows.
type Sweeper struct {
	appointments AppointmentRepositoryInterface
	logger       *logging.Logger
	cron         *cron.Cron
}

func NewSweeper(appointments AppointmentRepositoryInterface, logger *logging.Logger) *Sweeper {
	return &Sweeper{
		appointments: appointments,
		logger:       logger,
		cron:         cron.New(),
	}
}

// Start schedules the sweep. spec is a cron expression; an empty spec runs
// nightly at 00:10.
func (s *Sweeper) Start(spec string) error {
	if spec == "" {
		spec = "10 0 * * *"
	}
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.SweepOnce(ctx); err != nil {
			s.logger.WithError(err).Error("appointment sweep failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// SweepOnce completes every confirmed appointment dated before today and
// cancels every pending one that was never confirmed in time.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	today := time.Now().UTC().Format("2006-01-02")

	completed, err := s.retire(ctx, today, domain.StatusConfirmed, domain.StatusCompleted)
	if err != nil {
		return err
	}
	expired, err := s.retire(ctx, today, domain.StatusPending, domain.StatusCancelled)
	if err != nil {
		return err
	}

	if completed > 0 || expired > 0 {
		s.logger.WithFields(map[string]interface{}{
			"completed": completed,
			"expired":   expired,
		}).Info("swept past appointments")
	}
	return nil
}

func (s *Sweeper) retire(ctx context.Context, today string, from, to domain.AppointmentStatus) (int, error) {
	stale, err := s.appointments.ListStatusBefore(ctx, from, today)
	if err != nil {
		return 0, err
	}

	var retired int
	for _, appt := range stale {
		_, err := s.appointments.Update(ctx, appt.ID, map[string]any{
			"status": to.String(),
		})
		if err != nil {
			s.logger.WithError(err).WithField("appointment_id", appt.ID).
				Warn("failed to retire past appointment")
			continue
		}
		metrics.RecordStatusTransition(to.String())
		retired++
	}
	return retired, nil
}
