package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/hellocng/deepstack-sub002/common/queue"
	rediscommon "github.com/hellocng/deepstack-sub002/common/redis"
)

const (
	// ChannelPrefix is the Redis pub/sub channel prefix; the suffix is the partition key
	ChannelPrefix = "waitlist:changed:"

	// ChannelPattern matches every partition channel
	ChannelPattern = ChannelPrefix + "*"

	// QueueTopic is the in-process topic carrying change events
	QueueTopic = "waitlist.changed"

	revisionPrefix = "waitlist:rev:"
)

// Notifier receives "partition changed" signals after a committed mutation.
// Publish never blocks the caller on delivery and never reports failure.
type Notifier interface {
	Publish(ctx context.Context, p models.Partition)
}

// Encode builds the wire payload for a change event
func Encode(p models.Partition, revision int64, at time.Time) ([]byte, error) {
	return json.Marshal(models.ChangeEvent{
		RoomID:   p.RoomID,
		GameID:   p.GameID,
		Revision: revision,
		At:       at.UTC(),
	})
}

// Decode parses a change event payload
func Decode(payload []byte) (*models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode change event: %w", err)
	}
	if ev.RoomID == "" || ev.GameID == "" {
		return nil, fmt.Errorf("change event missing room or game")
	}
	return &ev, nil
}

// RedisNotifier publishes change events on Redis pub/sub for the fanout service
type RedisNotifier struct {
	redis   *rediscommon.Client
	log     *logger.Logger
	timeout time.Duration
}

// NewRedisNotifier creates a Redis-backed notifier
func NewRedisNotifier(redis *rediscommon.Client, log *logger.Logger, timeout time.Duration) *RedisNotifier {
	return &RedisNotifier{
		redis:   redis,
		log:     log,
		timeout: timeout,
	}
}

// Publish bumps the partition revision and publishes in the background
func (n *RedisNotifier) Publish(ctx context.Context, p models.Partition) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)

	go func() {
		defer cancel()
		if err := n.publish(ctx, p); err != nil {
			n.log.Warn("failed to publish waitlist change",
				"room_id", p.RoomID,
				"game_id", p.GameID,
				"error", err)
		}
	}()
}

func (n *RedisNotifier) publish(ctx context.Context, p models.Partition) error {
	revision, err := n.redis.Increment(ctx, revisionPrefix+p.Key())
	if err != nil {
		return err
	}

	payload, err := Encode(p, revision, time.Now())
	if err != nil {
		return err
	}

	return n.redis.PublishEvent(ctx, ChannelPrefix+p.Key(), string(payload))
}

// Revision returns the partition's change counter, 0 before its first change
func Revision(ctx context.Context, redis *rediscommon.Client, p models.Partition) (int64, error) {
	v, err := redis.Get(ctx, revisionPrefix+p.Key())
	if errors.Is(err, rediscommon.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	revision, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt revision for %s: %w", p.Key(), err)
	}
	return revision, nil
}

// QueueNotifier publishes change events on the in-process queue
type QueueNotifier struct {
	queue queue.Queue
	log   *logger.Logger
}

// NewQueueNotifier creates a notifier over q
func NewQueueNotifier(q queue.Queue, log *logger.Logger) *QueueNotifier {
	return &QueueNotifier{
		queue: q,
		log:   log,
	}
}

// Publish enqueues the change without waiting for consumers
func (n *QueueNotifier) Publish(ctx context.Context, p models.Partition) {
	payload, err := Encode(p, 0, time.Now())
	if err != nil {
		n.log.Warn("failed to encode waitlist change", "error", err)
		return
	}

	if err := n.queue.Publish(context.WithoutCancel(ctx), QueueTopic, p.Key(), payload); err != nil {
		n.log.Warn("failed to enqueue waitlist change",
			"room_id", p.RoomID,
			"game_id", p.GameID,
			"error", err)
	}
}

// Multi forwards every signal to each notifier in order
type Multi []Notifier

// Publish fans the signal out
func (m Multi) Publish(ctx context.Context, p models.Partition) {
	for _, n := range m {
		n.Publish(ctx, p)
	}
}

// Nop drops every signal
type Nop struct{}

// Publish does nothing
func (Nop) Publish(context.Context, models.Partition) {}
