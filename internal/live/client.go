// Package live is the authoritative shared pin collection: one Redis hash
// per pin, a per-area id set, and a per-area pub/sub channel streaming
// full-record snapshots to every subscribed client.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"stamprally/api/internal/pin"
)

// ErrNoSuchPin is returned by Write when the target pin does not exist.
// Partial writes never create records; only Populate does.
var ErrNoSuchPin = errors.New("no such pin")

// Client talks to the live store for reads, partial writes, and streams.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to the live store.
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientWithRedis wraps an existing connection.
func NewClientWithRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func pinKey(pinID string) string {
	return "pin:" + pinID
}

func areaKey(areaID string) string {
	return "area:" + areaID + ":pins"
}

func areaChannel(areaID string) string {
	return "area:" + areaID + ":stream"
}

// Populate writes the initial pin set for an area, produced once by the
// geocoding batch, and announces every record on the area's stream.
func (c *Client) Populate(ctx context.Context, areaID string, pins []pin.Pin) error {
	for _, p := range pins {
		rec := RecordFromPin(p)
		hash := encodeHash(rec)

		args := make([]any, 0, len(hash)*2)
		for k, v := range hash {
			args = append(args, k, v)
		}
		pipe := c.rdb.TxPipeline()
		pipe.HSet(ctx, pinKey(p.ID), args...)
		pipe.SAdd(ctx, areaKey(areaID), p.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("populate pin %s: %w", p.ID, err)
		}

		if err := c.publish(ctx, areaID, rec); err != nil {
			return err
		}
	}
	return nil
}

// Write applies a partial update to one pin, then streams the resulting
// record. Fields marked ServerTimestamp are stamped with the store's clock,
// never the caller's. Untouched fields are left exactly as they were.
func (c *Client) Write(ctx context.Context, areaID, pinID string, fields Fields) error {
	key := pinKey(pinID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check pin %s: %w", pinID, err)
	}
	if exists == 0 {
		return fmt.Errorf("write pin %s: %w", pinID, ErrNoSuchPin)
	}

	serverNow, err := c.rdb.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("read server time: %w", err)
	}

	sets := map[string]string{
		fieldUpdatedAt: serverNow.UTC().Format(time.RFC3339Nano),
	}
	var clears []string
	for name, value := range fields {
		encoded, clear, err := encodeField(name, value, serverNow)
		if err != nil {
			return fmt.Errorf("write pin %s: %w", pinID, err)
		}
		if clear {
			clears = append(clears, name)
			continue
		}
		sets[name] = encoded
	}

	pipe := c.rdb.TxPipeline()
	args := make([]any, 0, len(sets)*2)
	for k, v := range sets {
		args = append(args, k, v)
	}
	pipe.HSet(ctx, key, args...)
	if len(clears) > 0 {
		pipe.HDel(ctx, key, clears...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write pin %s: %w", pinID, err)
	}

	rec, err := c.read(ctx, pinID)
	if err != nil {
		return err
	}
	return c.publish(ctx, areaID, rec)
}

// Load reads the full collection for an area.
func (c *Client) Load(ctx context.Context, areaID string) ([]Record, error) {
	ids, err := c.rdb.SMembers(ctx, areaKey(areaID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list pins for area %s: %w", areaID, err)
	}

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := c.read(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Subscribe opens the change stream for one area. The first event is a Reset
// carrying the full collection; later events carry single changed records in
// delivery order. The channel closes after an Err event or when ctx ends.
func (c *Client) Subscribe(ctx context.Context, areaID string) (<-chan Event, error) {
	ps := c.rdb.Subscribe(ctx, areaChannel(areaID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe area %s: %w", areaID, err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer ps.Close()

		// Load after subscribing so nothing published in between is lost.
		// A record may arrive both in the reset and as a message; the
		// consumer's snapshot-replace policy makes the duplicate harmless.
		records, err := c.Load(ctx, areaID)
		if err != nil {
			emit(ctx, events, Event{Err: fmt.Errorf("initial load: %w", err)})
			return
		}
		if !emit(ctx, events, Event{Reset: true, Records: records}) {
			return
		}

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					emit(ctx, events, Event{Err: errors.New("stream connection lost")})
					return
				}
				var rec Record
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					log.Printf("live: dropping undecodable stream payload for area %s: %v", areaID, err)
					continue
				}
				if !emit(ctx, events, Event{Records: []Record{rec}}) {
					return
				}
			}
		}
	}()

	return events, nil
}

func (c *Client) read(ctx context.Context, pinID string) (Record, error) {
	hash, err := c.rdb.HGetAll(ctx, pinKey(pinID)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("read pin %s: %w", pinID, err)
	}
	if len(hash) == 0 {
		return Record{}, fmt.Errorf("read pin %s: %w", pinID, ErrNoSuchPin)
	}
	return decodeHash(pinID, hash), nil
}

func (c *Client) publish(ctx context.Context, areaID string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	if err := c.rdb.Publish(ctx, areaChannel(areaID), payload).Err(); err != nil {
		return fmt.Errorf("publish record %s: %w", rec.ID, err)
	}
	return nil
}

func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
