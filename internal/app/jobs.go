package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tickwheel/internal/config"
	"tickwheel/pkg/logx"
	"tickwheel/pkg/scheduler"
	"tickwheel/pkg/wheel"
)

// jobExec builds the body of a configured job. Firing logs the job message.
func (a *App) jobExec(j config.JobConfig) wheel.Executable {
	name := strings.TrimSpace(j.Name)
	msg := strings.TrimSpace(j.Message)
	log := a.root.With(logx.String("comp", "jobs"), logx.String("job", name))
	if j.Async {
		return wheel.Async(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			log.Info("job fired", logx.String("job_message", msg))
			return nil
		})
	}
	return wheel.Block(func() {
		log.Info("job fired", logx.String("job_message", msg))
	})
}

func (a *App) scheduleJob(j config.JobConfig) (uuid.UUID, error) {
	name := strings.TrimSpace(j.Name)
	timeout, err := config.ParseDurationField("jobs."+name+".timeout", j.Timeout)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := a.sched.ScheduleSpec(name, j.Schedule, a.jobExec(j),
		scheduler.WithMaxCount(j.MaxCount),
		scheduler.WithTimeout(timeout),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("job %q: %w", name, err)
	}
	return id, nil
}

// registerJobs schedules every configured job. It stops at the first
// failure.
func (a *App) registerJobs(jobs []config.JobConfig) error {
	a.jobsMu.Lock()
	defer a.jobsMu.Unlock()
	for _, j := range jobs {
		id, err := a.scheduleJob(j)
		if err != nil {
			return err
		}
		a.jobs[strings.TrimSpace(j.Name)] = id
	}
	if len(jobs) > 0 {
		a.log.Info("jobs registered", logx.Int("count", len(jobs)))
	}
	return nil
}

// reconcileJobs cancels removed or modified jobs and schedules added or
// modified ones. A job that fails to schedule is logged and skipped.
func (a *App) reconcileJobs(oldJ, newJ []config.JobConfig) {
	changed := config.ChangedJobs(oldJ, newJ)
	if len(changed) == 0 {
		return
	}
	byName := make(map[string]config.JobConfig, len(newJ))
	for _, j := range newJ {
		byName[strings.TrimSpace(j.Name)] = j
	}

	a.jobsMu.Lock()
	defer a.jobsMu.Unlock()
	for _, name := range changed {
		if id, ok := a.jobs[name]; ok {
			a.sched.Cancel(id)
			delete(a.jobs, name)
		}
		j, ok := byName[name]
		if !ok {
			a.log.Info("job removed", logx.String("job", name))
			continue
		}
		id, err := a.scheduleJob(j)
		if err != nil {
			a.log.Warn("job reschedule failed", logx.String("job", name), logx.Err(err))
			continue
		}
		a.jobs[name] = id
		a.log.Info("job scheduled", logx.String("job", name), logx.String("schedule", j.Schedule))
	}
}

// JobIDs returns the task id of every registered job.
func (a *App) JobIDs() map[string]uuid.UUID {
	a.jobsMu.Lock()
	defer a.jobsMu.Unlock()
	out := make(map[string]uuid.UUID, len(a.jobs))
	for k, v := range a.jobs {
		out[k] = v
	}
	return out
}
