package redis

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"foresight/internal/domain/research"
	"foresight/pkg/errors"
	"foresight/pkg/logger"
)

// Compile-time check
var _ research.EventBus = (*JobEventBus)(nil)

// JobEventBus pushes job change events through Redis pub/sub.
//
// One channel per job keeps subscriber fan-out cheap and lets clients follow
// a single job without filtering. Pub/sub gives at-least-once-ish delivery
// with no replay; consumers are expected to re-read the job snapshot after
// (re)subscribing.
type JobEventBus struct {
	rdb *redis.Client
	log *logger.Logger
}

// NewJobEventBus creates a new event bus.
func NewJobEventBus(rdb *redis.Client) *JobEventBus {
	return &JobEventBus{
		rdb: rdb,
		log: logger.Get().With("component", "job_event_bus"),
	}
}

// ChannelFor returns the pub/sub channel name for a job.
func ChannelFor(jobID uuid.UUID) string {
	return "research:jobs:" + jobID.String()
}

// Publish emits one event on the job's channel.
func (b *JobEventBus) Publish(ctx context.Context, event research.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal job event")
	}
	if err := b.rdb.Publish(ctx, ChannelFor(event.JobID), data).Err(); err != nil {
		return errors.Wrap(err, "publish job event")
	}
	return nil
}

// Subscribe streams events for one job until cancel is called or the context
// ends. Unparseable payloads are dropped with a warning.
func (b *JobEventBus) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan research.JobEvent, func(), error) {
	sub := b.rdb.Subscribe(ctx, ChannelFor(jobID))

	// Force the subscription to be established before returning so callers
	// do not miss events published right after Subscribe.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, errors.Wrap(err, "subscribe to job events")
	}

	events := make(chan research.JobEvent, 64)
	done := make(chan struct{})

	go func() {
		defer close(events)
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event research.JobEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.Warnf("Dropping malformed job event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case events <- event:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = sub.Close()
	}
	return events, cancel, nil
}
