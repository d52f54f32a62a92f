// File: internal/jobs/collection.go
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/JorisJBackis/tikrakaina/internal/config"
	"github.com/JorisJBackis/tikrakaina/internal/reconciler"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CollectionJob holds dependencies for the scheduled daily collection run.
type CollectionJob struct {
	rec           *reconciler.Reconciler
	logger        *zap.Logger
	cfg           *config.Config
	cronScheduler *cron.Cron
}

// NewCollectionJob creates a new CollectionJob.
func NewCollectionJob(
	rec *reconciler.Reconciler,
	logger *zap.Logger,
	cfg *config.Config,
) *CollectionJob {
	// Overlapping runs would double-count missing days, so a still-running
	// collection skips the next trigger.
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(NewCronLogger(logger.Named("cron"))),
	), cron.WithLogger(NewCronLogger(logger.Named("cron"))))

	return &CollectionJob{
		rec:           rec,
		logger:        logger.Named("CollectionJob"),
		cfg:           cfg,
		cronScheduler: scheduler,
	}
}

// SetupAndStart schedules and starts the cron job.
func (j *CollectionJob) SetupAndStart() error {
	jobSpec := j.cfg.CollectionJobSchedule // e.g., "@daily", "0 6 * * *" (6 AM daily)
	if jobSpec == "" {
		j.logger.Warn("Collection job schedule not defined (COLLECTION_JOB_SCHEDULE). Job will not run.")
		return nil
	}

	jobID, err := j.cronScheduler.AddFunc(jobSpec, j.runJob)
	if err != nil {
		j.logger.Error("Failed to schedule collection job", zap.String("spec", jobSpec), zap.Error(err))
		return err
	}

	j.logger.Info("Collection job scheduled", zap.String("spec", jobSpec), zap.Any("jobID", jobID))
	j.cronScheduler.Start()
	return nil
}

// runJob is the actual work performed by the cron job.
func (j *CollectionJob) runJob() {
	j.logger.Info("Starting daily collection run...")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	summary, err := j.rec.Run(ctx, j.cfg.DailyPageLimit)
	if err != nil {
		j.logger.Error("Daily collection run failed", zap.Error(err))
		return
	}
	j.logger.Info("Daily collection run completed",
		zap.Int("crawled", summary.Crawled),
		zap.Int("new", summary.New),
		zap.Int("ended", summary.Ended),
		zap.Int("promoted", summary.Promoted))
}

// Stop gracefully stops the cron scheduler.
func (j *CollectionJob) Stop() {
	if j.cronScheduler != nil {
		j.logger.Info("Stopping collection job scheduler...")
		stopCtx := j.cronScheduler.Stop()
		select {
		case <-stopCtx.Done():
			j.logger.Info("Collection job scheduler stopped gracefully.")
		case <-time.After(10 * time.Second):
			j.logger.Warn("Collection job scheduler stop timed out.")
		}
	}
}

// --- Cron Logger Adapter ---

// cronLogger adapts zap.Logger to the cron.Logger interface.
type cronLogger struct {
	zl *zap.Logger
}

// NewCronLogger creates a new cronLogger.
func NewCronLogger(zl *zap.Logger) cron.Logger {
	return &cronLogger{zl: zl}
}

// Info logs routine messages from cron.
func (cl *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	fields := cl.parseKeysAndValues(keysAndValues...)
	cl.zl.Info(msg, fields...)
}

// Error logs error messages from cron.
func (cl *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := cl.parseKeysAndValues(keysAndValues...)
	fields = append(fields, zap.Error(err))
	cl.zl.Error(msg, fields...)
}

func (cl *cronLogger) parseKeysAndValues(keysAndValues ...interface{}) []zap.Field {
	var fields []zap.Field
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
		} else {
			fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), "MISSING_VALUE"))
		}
	}
	return fields
}
