package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// eventIDField is the single field carried by every stream entry.
const eventIDField = "event_id"

// Entry is one dispatch signal: a stream entry id plus the event it points
// at. The entry id is what gets acknowledged; the event id is what gets
// processed.
type Entry struct {
	ID      string
	EventID string
}

// Client wraps a Redis Stream with a consumer group. Delivery is
// at-least-once: entries stay pending until acknowledged, and idle pending
// entries can be claimed by another consumer.
type Client struct {
	rdb    *redis.Client
	stream string
	group  string
}

func New(rdb *redis.Client, stream, group string) *Client {
	return &Client{rdb: rdb, stream: stream, group: group}
}

// Setup creates the consumer group (and the stream if missing). An already
// existing group is fine.
func (c *Client) Setup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", c.group, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish appends a dispatch signal for the event and returns the entry id.
func (c *Client) Publish(ctx context.Context, eventID string) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		Values: map[string]interface{}{eventIDField: eventID},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish event %s: %w", eventID, err)
	}
	return id, nil
}

// Read blocks up to the given duration and returns up to count entries not
// yet delivered to any consumer of the group.
func (c *Client) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]Entry, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: consumer,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from stream %s: %w", c.stream, err)
	}

	var entries []Entry
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			entries = append(entries, toEntry(msg))
		}
	}
	return entries, nil
}

// Ack removes an entry from the group's pending list. Called only after the
// processor has finished its event store writes for the attempt.
func (c *Client) Ack(ctx context.Context, entryID string) error {
	if err := c.rdb.XAck(ctx, c.stream, c.group, entryID).Err(); err != nil {
		return fmt.Errorf("failed to ack entry %s: %w", entryID, err)
	}
	return nil
}

// PendingEventIDs returns the set of event ids with an entry currently
// pending in the consumer group. The orphan detector uses it for its
// check-then-enqueue.
func (c *Client) PendingEventIDs(ctx context.Context, limit int64) (map[string]struct{}, error) {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}

	ids := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		msgs, err := c.rdb.XRange(ctx, c.stream, p.ID, p.ID).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve pending entry %s: %w", p.ID, err)
		}
		for _, msg := range msgs {
			if eventID := eventIDOf(msg); eventID != "" {
				ids[eventID] = struct{}{}
			}
		}
	}
	return ids, nil
}

// ClaimIdle transfers ownership of entries pending longer than minIdle to
// the given consumer, so a live worker adopts work abandoned by a crashed
// one.
func (c *Client) ClaimIdle(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim idle entries: %w", err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, toEntry(msg))
	}
	return entries, nil
}

func toEntry(msg redis.XMessage) Entry {
	return Entry{ID: msg.ID, EventID: eventIDOf(msg)}
}

func eventIDOf(msg redis.XMessage) string {
	v, ok := msg.Values[eventIDField]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
