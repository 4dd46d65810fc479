package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker logs counters for long-running batch operations (seeding,
// ingestion) at a fixed interval instead of per record.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// ProgressConfig configures a ProgressTracker.
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a tracker and logs the operation start.
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   time.Now(),
		lastLogTime: time.Now(),
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Info("Starting operation")

	return tracker
}

// Increment advances the counter by 1.
func (p *ProgressTracker) Increment() {
	p.Add(1)
}

// Add advances the counter by delta and logs when the interval has elapsed.
func (p *ProgressTracker) Add(delta int64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current += delta
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logProgress(now)
		p.lastLogTime = now
	}
}

// Complete logs final statistics for the operation.
func (p *ProgressTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	p.logger.WithFields(Fields{
		"operation": p.operation,
		"processed": p.current,
		"duration":  duration.String(),
		"rate":      fmt.Sprintf("%.2f/sec", rate(p.current, duration)),
	}).Info("Operation completed")
}

// CompleteWithError logs final statistics when the operation failed.
func (p *ProgressTracker) CompleteWithError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	p.logger.WithError(err).WithFields(Fields{
		"operation": p.operation,
		"processed": p.current,
		"duration":  duration.String(),
	}).Error("Operation completed with error")
}

// Current returns the number of processed items so far.
func (p *ProgressTracker) Current() int64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.current
}

func (p *ProgressTracker) logProgress(now time.Time) {
	duration := now.Sub(p.startTime)
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"rate":      fmt.Sprintf("%.2f/sec", rate(p.current, duration)),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}
	p.logger.WithFields(fields).Info("Progress update")
}

func rate(count int64, duration time.Duration) float64 {
	if duration.Seconds() <= 0 {
		return 0
	}
	return float64(count) / duration.Seconds()
}

// TimedOperation runs fn and logs its duration and outcome under the given
// operation name.
func TimedOperation(operation string, log Logger, fn func() error) error {
	if log == nil {
		log = GetGlobalLogger()
	}
	start := time.Now()
	log.WithField("operation", operation).Info("Starting operation")

	err := fn()
	fields := Fields{
		"operation": operation,
		"duration":  time.Since(start).String(),
	}
	if err != nil {
		log.WithError(err).WithFields(fields).Error("Operation failed")
		return err
	}
	log.WithFields(fields).Info("Operation completed")
	return nil
}
