package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// RedisQueue keeps entries as hashes and tracks pending, processing and failed
// ids in sorted sets. Every state change runs as a Lua script so claims and
// completions are atomic per entry.
type RedisQueue struct {
	client        redis.UniversalClient
	opts          Options
	pendingKey    string
	processingKey string
	failedKey     string
	entryPrefix   string
	dedupPrefix   string
}

// NewRedisQueue builds a queue under the given key prefix.
func NewRedisQueue(client redis.UniversalClient, prefix string, opts Options) *RedisQueue {
	if prefix == "" {
		prefix = "slaq"
	}
	return &RedisQueue{
		client:        client,
		opts:          opts.withDefaults(),
		pendingKey:    prefix + ":pending",
		processingKey: prefix + ":processing",
		failedKey:     prefix + ":failed",
		entryPrefix:   prefix + ":entry:",
		dedupPrefix:   prefix + ":dedup:",
	}
}

func (q *RedisQueue) entryKey(id string) string {
	return q.entryPrefix + id
}

func (q *RedisQueue) dedupKey(key string) string {
	return q.dedupPrefix + key
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, entry *domain.NotificationEntry, window time.Duration) (bool, error) {
	prepareEntry(entry, q.opts, uuid.NewString)
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return false, fmt.Errorf("encode payload: %w", err)
	}

	args := []any{
		entry.ID,
		window.Milliseconds(),
		entry.ScheduledAt.UnixMilli(),
		"id", entry.ID,
		"ticket_id", entry.TicketID,
		"type", string(entry.Type),
		"status", string(entry.Status),
		"attempts", entry.Attempts,
		"max_attempts", entry.MaxAttempts,
		"target", entry.Target,
		"dedup_key", entry.DedupKey,
		"last_error", "",
		"created_at", entry.CreatedAt.UnixMilli(),
		"scheduled_at", entry.ScheduledAt.UnixMilli(),
		"updated_at", entry.CreatedAt.UnixMilli(),
		"payload", string(payload),
	}
	keys := []string{q.dedupKey(entry.DedupKey), q.entryKey(entry.ID), q.pendingKey}
	created, err := enqueueScript.Run(ctx, q.client, keys, args...).Int()
	if err != nil {
		return false, err
	}
	return created == 1, nil
}

// ClaimBatch implements Queue.
func (q *RedisQueue) ClaimBatch(ctx context.Context, n int) ([]domain.NotificationEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	now := q.opts.Now().UnixMilli()
	ids, err := claimScript.Run(ctx, q.client, []string{q.pendingKey, q.processingKey}, now, n, q.entryPrefix).StringSlice()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q.load(ctx, ids)
}

// Complete implements Queue.
func (q *RedisQueue) Complete(ctx context.Context, id string, success bool, deliveryErr string) (domain.NotificationStatus, error) {
	dedup, err := q.client.HGet(ctx, q.entryKey(id), "dedup_key").Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	attempts, err := q.client.HGet(ctx, q.entryKey(id), "attempts").Int()
	if err != nil && err != redis.Nil {
		return "", err
	}
	now := q.opts.Now()
	next := now.Add(backoffWithJitter(q.opts.BackoffInitial, q.opts.BackoffMax, attempts+1))

	flag := "0"
	if success {
		flag = "1"
	}
	keys := []string{q.entryKey(id), q.processingKey, q.pendingKey, q.dedupKey(dedup), q.failedKey}
	res, err := completeScript.Run(ctx, q.client, keys, id, flag, now.UnixMilli(), next.UnixMilli(), deliveryErr).Text()
	if err != nil {
		return "", mapScriptError(err)
	}
	return domain.NotificationStatus(res), nil
}

// ReclaimStale implements Queue.
func (q *RedisQueue) ReclaimStale(ctx context.Context, timeout time.Duration) (int, error) {
	now := q.opts.Now()
	cutoff := now.Add(-timeout).UnixMilli()
	n, err := reclaimScript.Run(ctx, q.client, []string{q.processingKey, q.pendingKey}, cutoff, now.UnixMilli(), q.entryPrefix, 1000).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Get implements Queue.
func (q *RedisQueue) Get(ctx context.Context, id string) (*domain.NotificationEntry, error) {
	entries, err := q.load(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

// ListFailed implements Queue.
func (q *RedisQueue) ListFailed(ctx context.Context, limit int) ([]domain.NotificationEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.client.ZRevRange(ctx, q.failedKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	return q.load(ctx, ids)
}

// PendingCount implements Queue.
func (q *RedisQueue) PendingCount(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.pendingKey).Result()
}

func (q *RedisQueue) load(ctx context.Context, ids []string) ([]domain.NotificationEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, q.entryKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	entries := make([]domain.NotificationEntry, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		entry, err := decodeEntry(fields)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeEntry(f map[string]string) (domain.NotificationEntry, error) {
	entry := domain.NotificationEntry{
		ID:          f["id"],
		TicketID:    f["ticket_id"],
		Type:        domain.NotificationType(f["type"]),
		Status:      domain.NotificationStatus(f["status"]),
		Target:      f["target"],
		DedupKey:    f["dedup_key"],
		LastError:   f["last_error"],
		Attempts:    atoi(f["attempts"]),
		MaxAttempts: atoi(f["max_attempts"]),
		CreatedAt:   fromMillis(f["created_at"]),
		ScheduledAt: fromMillis(f["scheduled_at"]),
	}
	if v := f["claimed_at"]; v != "" {
		claimed := fromMillis(v)
		entry.ClaimedAt = &claimed
	}
	if v := f["payload"]; v != "" {
		if err := json.Unmarshal([]byte(v), &entry.Payload); err != nil {
			return entry, fmt.Errorf("decode payload of %s: %w", entry.ID, err)
		}
	}
	return entry, nil
}

func atoi(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}

func fromMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func mapScriptError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not_found"):
		return ErrNotFound
	case strings.Contains(msg, "not_processing"):
		return ErrNotProcessing
	}
	return err
}

var enqueueScript = redis.NewScript(`
local window = tonumber(ARGV[2])
if window > 0 then
  if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
  end
  redis.call('SET', KEYS[1], ARGV[1], 'PX', window)
end
local fields = {}
for i = 4, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', KEYS[2], unpack(fields))
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[1], id)
  redis.call('HSET', ARGV[3] .. id, 'status', 'processing', 'claimed_at', ARGV[1], 'updated_at', ARGV[1])
end
return ids
`)

var completeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('not_found')
end
if redis.call('HGET', KEYS[1], 'status') ~= 'processing' then
  return redis.error_reply('not_processing')
end
redis.call('ZREM', KEYS[2], ARGV[1])
if ARGV[2] == '1' then
  redis.call('HSET', KEYS[1], 'status', 'sent', 'updated_at', ARGV[3])
  return 'sent'
end
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts') or '0')
local maxAttempts = tonumber(redis.call('HGET', KEYS[1], 'max_attempts') or '1')
if attempts + 1 >= maxAttempts then
  redis.call('HSET', KEYS[1], 'status', 'failed', 'attempts', attempts + 1, 'last_error', ARGV[5], 'updated_at', ARGV[3])
  redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
  if redis.call('GET', KEYS[4]) == ARGV[1] then
    redis.call('DEL', KEYS[4])
  end
  return 'failed'
end
redis.call('HSET', KEYS[1], 'status', 'pending', 'attempts', attempts + 1, 'last_error', ARGV[5], 'scheduled_at', ARGV[4], 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return 'pending'
`)

var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[4]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('HSET', ARGV[3] .. id, 'status', 'pending', 'scheduled_at', ARGV[2], 'updated_at', ARGV[2])
  redis.call('ZADD', KEYS[2], ARGV[2], id)
end
return #ids
`)
