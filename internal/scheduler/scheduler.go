// Package scheduler runs periodic maintenance jobs on a gocron scheduler.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/clock"
	"github.com/dhr/workerauth/internal/repository"
)

const otpSweepJobName = "otp-sweep-expired"

// New returns a started scheduler that logs job lifecycle events.
func New(logger *logrus.Logger) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(
		gocron.WithGlobalJobOptions(
			gocron.WithEventListeners(
				gocron.BeforeJobRuns(func(jobID uuid.UUID, jobName string) {
					logger.WithFields(logrus.Fields{"job_name": jobName, "job_id": jobID.String()}).Debug("Job started")
				}),
				gocron.AfterJobRunsWithError(func(jobID uuid.UUID, jobName string, err error) {
					logger.WithError(err).WithFields(logrus.Fields{"job_name": jobName, "job_id": jobID.String()}).Error("Job failed")
				}),
				gocron.AfterJobRunsWithPanic(func(jobID uuid.UUID, jobName string, recoverData any) {
					logger.WithFields(logrus.Fields{
						"job_name":     jobName,
						"job_id":       jobID.String(),
						"recover_data": recoverData,
					}).Error("Job panicked")
				}),
			),
		),
		gocron.WithLogger(gocronLogger{l: logger}),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.Start()
	return s, nil
}

// RegisterOTPSweep deletes expired challenges from store every interval. A
// run still in progress when the next one is due is skipped.
func RegisterOTPSweep(
	ctx context.Context,
	s gocron.Scheduler,
	store repository.Sweeper,
	clk clock.Clocker,
	interval time.Duration,
	logger *logrus.Logger,
) error {
	_, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() error {
			return SweepExpired(ctx, store, clk, logger)
		}),
		gocron.WithName(otpSweepJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", otpSweepJobName, err)
	}
	return nil
}

func SweepExpired(ctx context.Context, store repository.Sweeper, clk clock.Clocker, logger *logrus.Logger) error {
	n, err := store.DeleteExpired(ctx, clk.Now())
	if err != nil {
		return fmt.Errorf("failed to delete expired OTPs: %w", err)
	}
	if n > 0 {
		logger.WithField("deleted", n).Info("Expired OTPs removed")
	}
	return nil
}

// gocronLogger adapts logrus to gocron's key/value logger.
type gocronLogger struct {
	l *logrus.Logger
}

func (g gocronLogger) entry(args []any) *logrus.Entry {
	fields := logrus.Fields{"component": "scheduler"}
	for i := 0; i+1 < len(args); i += 2 {
		fields[fmt.Sprint(args[i])] = args[i+1]
	}
	return g.l.WithFields(fields)
}

func (g gocronLogger) Debug(msg string, args ...any) { g.entry(args).Debug(msg) }
func (g gocronLogger) Error(msg string, args ...any) { g.entry(args).Error(msg) }
func (g gocronLogger) Info(msg string, args ...any)  { g.entry(args).Info(msg) }
func (g gocronLogger) Warn(msg string, args ...any)  { g.entry(args).Warn(msg) }
