// Package redisx wraps go-redis with the operations the Coordinator's
// alarm queue and trace-event stream need: a sorted set scored by fire
// time for ScheduleAlarm effects, and a stream for fanning TraceEvents out
// to subscribers without coupling them to the local store's schema.
package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger is the minimal logging surface redisx needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with the Coordinator's alarm-queue and
// trace-stream operations.
type Client struct {
	redis  *redis.Client
	logger Logger
}

func New(cfg *redis.Options, logger Logger) *Client {
	return &Client{redis: redis.NewClient(cfg), logger: logger}
}

func NewFromClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{redis: redisClient, logger: logger}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.redis.Close()
}

const alarmsKey = "wonder:alarms"

// AlarmPayload identifies the run a fired alarm wakes up.
type AlarmPayload struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

// ScheduleAlarm adds a due-at entry to the alarm sorted set, scored by the
// Unix millisecond fire time so ClaimDueAlarms can pop in fire order. An
// immediate alarm (delayMS == 0) scores at "now" rather than bypassing
// Redis, keeping the trampoline's wakeup path uniform (spec.md §5).
func (c *Client) ScheduleAlarm(ctx context.Context, runID, reason string, delayMS int64) error {
	payload, err := json.Marshal(AlarmPayload{RunID: runID, Reason: reason})
	if err != nil {
		return fmt.Errorf("marshal alarm payload: %w", err)
	}
	fireAt := time.Now().Add(time.Duration(delayMS) * time.Millisecond)
	err = c.redis.ZAdd(ctx, alarmsKey, redis.Z{
		Score:  float64(fireAt.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule alarm for run %s: %w", runID, err)
	}
	return nil
}

// ClaimDueAlarms pops up to limit alarms whose fire time has passed. Each
// member is removed with its own ZREM and returned only when this call's
// ZREM removed it, so two concurrent claimers never return the same alarm.
func (c *Client) ClaimDueAlarms(ctx context.Context, limit int64) ([]AlarmPayload, error) {
	now := float64(time.Now().UnixMilli())
	members, err := c.redis.ZRangeByScore(ctx, alarmsKey, &redis.ZRangeBy{
		Min: "0", Max: fmt.Sprintf("%f", now), Offset: 0, Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range due alarms: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	out := make([]AlarmPayload, 0, len(members))
	for _, raw := range members {
		removed, err := c.redis.ZRem(ctx, alarmsKey, raw).Result()
		if err != nil {
			return nil, fmt.Errorf("remove claimed alarm: %w", err)
		}
		if removed == 0 {
			continue // another claimer removed it first
		}
		var p AlarmPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			c.logger.Error("drop malformed alarm payload", "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func toInterfaceSlice(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

const traceStream = "wonder:trace_events"

// PublishTraceEvent fans a trace event out to the trace stream's
// subscribers.
func (c *Client) PublishTraceEvent(ctx context.Context, fields map[string]interface{}) error {
	_, err := c.redis.XAdd(ctx, &redis.XAddArgs{Stream: traceStream, Values: fields}).Result()
	if err != nil {
		return fmt.Errorf("publish trace event: %w", err)
	}
	return nil
}

// SetNX sets key only if it does not exist yet and reports whether it was
// set.
func (c *Client) SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error) {
	ok, err := c.redis.SetNX(ctx, key, value, expiry).Result()
	if err != nil {
		return false, fmt.Errorf("setnx key %s: %w", key, err)
	}
	return ok, nil
}
