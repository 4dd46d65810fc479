// Package scheduler runs the recurring operational jobs: the SLA sweep and
// the daily ingestion-plus-reconciliation pipeline. Jobs are plain
// functions driven by tickers; cancellation is cooperative through the
// context, so a job that is mid-flight when shutdown starts finishes its
// current store commit and then stops.
package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"trade-reconciliation-engine/internal/recon"
	"trade-reconciliation-engine/internal/router"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

// Built-in cadences. A schedule file can override both.
const (
	SLASweepInterval  = 15 * time.Minute
	DailyPipelineHour = 6 // 06:00 UTC
)

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

// DayTime is a time of day in UTC.
type DayTime struct {
	Hour   int
	Minute int
}

// Job is a registered recurring job. Exactly one of Every and At applies:
// Every runs on a fixed interval, At runs once per day at the given UTC
// time.
type Job struct {
	Name    string
	Every   time.Duration
	At      *DayTime
	Enabled bool
	Run     JobFunc
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.ValidationError(errors.CodeMissingField, "job name", "", nil)
	}
	if j.Run == nil {
		return errors.ValidationError(errors.CodeMissingField, "job run function", j.Name, nil)
	}
	hasInterval := j.Every > 0
	hasDaily := j.At != nil
	if hasInterval == hasDaily {
		return errors.ValidationError(errors.CodeInvalidData, "job schedule", j.Name, nil).
			WithSuggestion("set exactly one of an interval or a daily time")
	}
	if hasDaily && (j.At.Hour < 0 || j.At.Hour > 23 || j.At.Minute < 0 || j.At.Minute > 59) {
		return errors.ValidationError(errors.CodeOutOfRange, "job daily time", *j.At, nil)
	}
	return nil
}

// Sweeper escalates SLA-breached breaks. *router.Router satisfies it.
type Sweeper interface {
	CheckSLABreaches(ctx context.Context) ([]router.Escalation, error)
}

// PipelineRunner runs the daily ingestion and reconciliation pipeline.
// *recon.Service satisfies it.
type PipelineRunner interface {
	DailyPipeline(ctx context.Context) (*recon.PipelineResult, error)
}

// Builtins returns the standard production job set.
func Builtins(sweeper Sweeper, pipeline PipelineRunner) []*Job {
	return []*Job{
		{
			Name:    "sla_sweep",
			Every:   SLASweepInterval,
			Enabled: true,
			Run: func(ctx context.Context) error {
				_, err := sweeper.CheckSLABreaches(ctx)
				return err
			},
		},
		{
			Name:    "daily_pipeline",
			At:      &DayTime{Hour: DailyPipelineHour},
			Enabled: true,
			Run: func(ctx context.Context) error {
				_, err := pipeline.DailyPipeline(ctx)
				return err
			},
		},
	}
}

// Scheduler owns the registered jobs and their run loops.
type Scheduler struct {
	jobs  []*Job
	log   logger.Logger
	clock func() time.Time
	wg    sync.WaitGroup
}

// New creates an empty scheduler.
func New(log logger.Logger) *Scheduler {
	return &Scheduler{
		log:   log.WithComponent("scheduler"),
		clock: time.Now,
	}
}

// Register adds jobs after validating them. Names must be unique.
func (s *Scheduler) Register(jobs ...*Job) error {
	for _, job := range jobs {
		if err := job.validate(); err != nil {
			return err
		}
		if s.find(job.Name) != nil {
			return errors.ValidationError(errors.CodeInvalidData, "job name", job.Name, nil).
				WithSuggestion("job names must be unique")
		}
		s.jobs = append(s.jobs, job)
	}
	return nil
}

// scheduleFile is the YAML override format: a jobs list where each entry
// names a registered job and replaces its cadence or enabled flag.
type scheduleFile struct {
	Jobs []jobOverride `yaml:"jobs"`
}

type jobOverride struct {
	Name    string `yaml:"name"`
	Every   string `yaml:"every,omitempty"`
	At      string `yaml:"at,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// ApplyOverrides rewires registered jobs from a YAML schedule file. An
// empty path is a no-op; a named job that is not registered, an unparsable
// cadence, or a job left without a valid schedule is a configuration error.
func (s *Scheduler) ApplyOverrides(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.ConfigError(errors.CodeMissingConfig, "schedule_file", err)
	}

	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return errors.ConfigError(errors.CodeInvalidConfig, "schedule_file", err)
	}

	for _, override := range file.Jobs {
		job := s.find(override.Name)
		if job == nil {
			return errors.ConfigError(errors.CodeInvalidConfig, "schedule_file", nil).
				WithContext("job", override.Name).
				WithSuggestion("schedule entries must name a registered job")
		}

		if override.Every != "" {
			every, err := time.ParseDuration(override.Every)
			if err != nil {
				return errors.ConfigError(errors.CodeInvalidConfig, "schedule_file", err).
					WithContext("job", override.Name).
					WithContext("every", override.Every)
			}
			job.Every = every
			job.At = nil
		}
		if override.At != "" {
			at, err := parseDayTime(override.At)
			if err != nil {
				return errors.ConfigError(errors.CodeInvalidConfig, "schedule_file", err).
					WithContext("job", override.Name).
					WithContext("at", override.At)
			}
			job.At = &at
			job.Every = 0
		}
		if override.Enabled != nil {
			job.Enabled = *override.Enabled
		}

		if err := job.validate(); err != nil {
			return errors.ConfigError(errors.CodeInvalidConfig, "schedule_file", err).
				WithContext("job", override.Name)
		}

		s.log.WithFields(logger.Fields{
			"job":     job.Name,
			"every":   job.Every.String(),
			"enabled": job.Enabled,
		}).Info("Schedule override applied")
	}

	return nil
}

// Start launches one run loop per enabled job. It returns immediately;
// Wait blocks until every loop has observed the context's cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if !job.Enabled {
			s.log.WithField("job", job.Name).Info("Job disabled, skipping")
			continue
		}

		s.wg.Add(1)
		go func(job *Job) {
			defer s.wg.Done()
			if job.At != nil {
				s.runDaily(ctx, job)
				return
			}
			s.runInterval(ctx, job)
		}(job)

		s.log.WithFields(logger.Fields{
			"job":      job.Name,
			"schedule": describeSchedule(job),
		}).Info("Job scheduled")
	}
}

// Wait blocks until every job loop has stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runInterval(ctx context.Context, job *Job) {
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, job)
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, job *Job) {
	for {
		timer := time.NewTimer(untilNext(s.clock().UTC(), *job.At))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.execute(ctx, job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) {
	log := s.log.WithField("job", job.Name)
	started := s.clock()

	if err := job.Run(ctx); err != nil {
		log.WithError(err).Error("Scheduled job failed")
		return
	}
	log.WithField("duration", s.clock().Sub(started).String()).Debug("Scheduled job complete")
}

func (s *Scheduler) find(name string) *Job {
	for _, job := range s.jobs {
		if job.Name == name {
			return job
		}
	}
	return nil
}

// untilNext returns how long until the next occurrence of the given UTC
// day time, strictly in the future.
func untilNext(now time.Time, at DayTime) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour, at.Minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// parseDayTime reads an "HH:MM" clock time.
func parseDayTime(s string) (DayTime, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return DayTime{}, err
	}
	return DayTime{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

func describeSchedule(job *Job) string {
	if job.At != nil {
		return time.Date(0, 1, 1, job.At.Hour, job.At.Minute, 0, 0, time.UTC).Format("15:04") + " UTC daily"
	}
	return "every " + job.Every.String()
}
