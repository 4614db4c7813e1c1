package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/pvheat/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const ENERGY_REPORT_JOB = "energy-report"

// EnergyReportJob asks the heat manager to close the current energy period.
type EnergyReportJob struct {
	root    *actor.RootContext
	target  *actor.PID
	timeout time.Duration
	logger  *zap.Logger
}

func NewEnergyReportJob(root *actor.RootContext, target *actor.PID, timeout time.Duration, logger *zap.Logger) *EnergyReportJob {
	return &EnergyReportJob{
		root:    root,
		target:  target,
		timeout: timeout,
		logger:  logger,
	}
}

func (j *EnergyReportJob) Execute(_ context.Context) error {
	res, err := j.root.RequestFuture(j.target, domain.EnergyReportRequest{}, j.timeout).Result()
	if err != nil {
		j.logger.Warn("scheduler: energy report failed", zap.Error(err))
		return err
	}
	report, ok := res.(domain.EnergyReportResponse)
	if !ok {
		return fmt.Errorf("scheduler: unexpected energy report response %T", res)
	}
	if err := report.GetResponseError(); err != nil {
		j.logger.Warn("scheduler: energy report failed", zap.Error(err))
		return err
	}
	j.logger.Debug("scheduler: energy report done", zap.Any("watt_hours", report.WattHours))
	return nil
}

func (j *EnergyReportJob) Description() string {
	return ENERGY_REPORT_JOB
}

// StartEnergyReport runs job on the given quartz cron expression until ctx is done.
func StartEnergyReport(ctx context.Context, cronExpression string, job quartz.Job, logger *zap.Logger) (quartz.Scheduler, error) {
	trigger, err := quartz.NewCronTrigger(cronExpression)
	if err != nil {
		return nil, fmt.Errorf("invalid energy report cron %q: %w", cronExpression, err)
	}
	sched, err := quartz.NewStdScheduler()
	if err != nil {
		return nil, err
	}
	sched.Start(ctx)
	if err := sched.ScheduleJob(quartz.NewJobDetail(job, quartz.NewJobKey(ENERGY_REPORT_JOB)), trigger); err != nil {
		sched.Stop()
		return nil, err
	}
	logger.Info("scheduler: energy report scheduled", zap.String("cron", cronExpression))
	return sched, nil
}
