// Package notify publishes exception workflow events to Redis pub/sub so
// downstream alerting (chat bridges, email fanout, dashboards) can react
// without polling the database. Delivery is best effort: callers log
// publish failures and move on.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

// Channels the publisher emits on. Subscribers filter on these names.
const (
	ChannelAssignments = "recon.assignments"
	ChannelEscalations = "recon.escalations"
)

// Event type tags carried in the envelope.
const (
	EventBreakAssigned  = "break_assigned"
	EventBreakEscalated = "break_escalated"
)

const publishTimeout = 2 * time.Second

// Event is the JSON envelope published for every workflow notification.
type Event struct {
	Type             string    `json:"type"`
	BreakID          int64     `json:"break_id"`
	TradeID          int64     `json:"trade_id"`
	BreakType        string    `json:"break_type"`
	Severity         string    `json:"severity"`
	AssignedTo       string    `json:"assigned_to,omitempty"`
	OriginalAssignee string    `json:"original_assignee,omitempty"`
	EscalatedTo      string    `json:"escalated_to,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// publishClient is the slice of the Redis client the publisher uses.
type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Publisher emits workflow events over Redis pub/sub. It satisfies the
// router's Notifier contract and is safe for concurrent use.
type Publisher struct {
	client publishClient
	log    logger.Logger
	clock  func() time.Time
}

// NewPublisher connects a publisher using a redis:// URL, typically
// RECON_REDIS_URL. The connection is lazy; a dead Redis surfaces on the
// first publish, not here.
func NewPublisher(redisURL string, log logger.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.ConfigError(errors.CodeInvalidConfig, "redis_url", err)
	}
	return &Publisher{
		client: redis.NewClient(opts),
		log:    log.WithComponent("notify"),
		clock:  time.Now,
	}, nil
}

// BreakAssigned publishes a routing decision to the assignments channel.
func (p *Publisher) BreakAssigned(ctx context.Context, brk *models.TradeBreak, assignee string) error {
	return p.publish(ctx, ChannelAssignments, Event{
		Type:       EventBreakAssigned,
		BreakID:    brk.ID,
		TradeID:    brk.TradeID,
		BreakType:  string(brk.BreakType),
		Severity:   string(brk.Severity),
		AssignedTo: assignee,
		Timestamp:  p.clock().UTC(),
	})
}

// BreakEscalated publishes an SLA escalation to the escalations channel.
func (p *Publisher) BreakEscalated(ctx context.Context, brk *models.TradeBreak, originalAssignee, escalatedTo string) error {
	return p.publish(ctx, ChannelEscalations, Event{
		Type:             EventBreakEscalated,
		BreakID:          brk.ID,
		TradeID:          brk.TradeID,
		BreakType:        string(brk.BreakType),
		Severity:         string(brk.Severity),
		OriginalAssignee: originalAssignee,
		EscalatedTo:      escalatedTo,
		Timestamp:        p.clock().UTC(),
	})
}

// Close releases the Redis connection pool.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func (p *Publisher) publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInvariant, errors.CodeUnexpectedError,
			"failed to marshal notification event")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errors.TransientError(errors.CodeConnectionFailed, "redis "+channel, err)
	}

	p.log.WithFields(logger.Fields{
		"channel":  channel,
		"type":     event.Type,
		"break_id": event.BreakID,
	}).Debug("Notification published")
	return nil
}
