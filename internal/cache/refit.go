package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/refit"
)

const refitKeyPrefix = "refit:"

// Result codes returned by refitClassifyScript.
const (
	refitCodeFresh    = 0
	refitCodeAccepted = 1
	refitCodeLimited  = 2
)

// refitClassifyScript mirrors refit.Policy.Classify inside Redis so concurrent
// resubmissions from several instances are serialized per entry.
// Returns {code, count, window_start_ms, reset}.
var refitClassifyScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])       -- unix ms
	local window = tonumber(ARGV[2])    -- ms
	local limit = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])       -- ms

	local data = redis.call('HMGET', key, 'count', 'window_start')
	if not data[1] then
		return {0, 0, 0, 0}
	end

	local count = tonumber(data[1])
	local start = tonumber(data[2])
	local reset = 0
	if now - start > window then
		count = 0
		start = now
		reset = 1
	end

	if count >= limit then
		return {2, count, start, reset}
	end

	count = count + 1
	redis.call('HSET', key, 'count', count, 'window_start', start)
	redis.call('PEXPIRE', key, ttl)
	return {1, count, start, reset}
`)

// refitOpenScript creates an entry with count 0 unless one exists.
// Returns {count, window_start_ms}.
var refitOpenScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local data = redis.call('HMGET', key, 'count', 'window_start')
	if data[1] then
		return {tonumber(data[1]), tonumber(data[2])}
	end

	redis.call('HSET', key, 'count', 0, 'window_start', now)
	redis.call('PEXPIRE', key, ttl)
	return {0, now}
`)

// RefitWindow is a refit.Store backed by Redis hashes. Entries expire after
// ttl without activity.
type RefitWindow struct {
	cache  *Cache
	policy refit.Policy
	ttl    time.Duration
}

var _ refit.Store = (*RefitWindow)(nil)

// RefitWindow returns a Redis-backed refit window.
func (c *Cache) RefitWindow(policy refit.Policy, ttl time.Duration) *RefitWindow {
	return &RefitWindow{cache: c, policy: policy, ttl: ttl}
}

func refitKey(userID string, key model.IdentityKey) string {
	return refitKeyPrefix + userID + ":" + string(key)
}

func (w *RefitWindow) Lookup(ctx context.Context, userID string, key model.IdentityKey) (*model.RefitEntry, error) {
	vals, err := w.cache.client.HMGet(ctx, refitKey(userID, key), "count", "window_start").Result()
	if err != nil {
		return nil, fmt.Errorf("refit lookup: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return nil, nil
	}

	count, err := parseRedisInt(vals[0])
	if err != nil {
		return nil, fmt.Errorf("refit lookup: count: %w", err)
	}
	startMS, err := parseRedisInt(vals[1])
	if err != nil {
		return nil, fmt.Errorf("refit lookup: window_start: %w", err)
	}

	return &model.RefitEntry{
		UserID:      userID,
		Key:         key,
		Count:       int(count),
		WindowStart: time.UnixMilli(startMS),
	}, nil
}

func (w *RefitWindow) ClassifyAndRecord(ctx context.Context, userID string, key model.IdentityKey) (model.RefitOutcome, error) {
	res, err := refitClassifyScript.Run(ctx, w.cache.client,
		[]string{refitKey(userID, key)},
		w.cache.now().UnixMilli(), w.policy.Window.Milliseconds(), w.policy.Limit, w.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return model.RefitOutcome{}, fmt.Errorf("refit classify: %w", err)
	}
	if len(res) != 4 {
		return model.RefitOutcome{}, errors.New("refit classify: unexpected script result")
	}

	out := model.RefitOutcome{Limit: w.policy.Limit}
	switch res[0] {
	case refitCodeFresh:
		out.Kind = model.RefitFresh
		return out, nil
	case refitCodeAccepted:
		out.Kind = model.RefitAccepted
	case refitCodeLimited:
		out.Kind = model.RefitLimitExceeded
	default:
		return model.RefitOutcome{}, fmt.Errorf("refit classify: unknown result code %d", res[0])
	}
	out.Count = int(res[1])
	out.ResetsAt = time.UnixMilli(res[2]).Add(w.policy.Window)
	out.WindowReset = res[3] == 1
	return out, nil
}

func (w *RefitWindow) Open(ctx context.Context, userID string, key model.IdentityKey) (*model.RefitEntry, error) {
	res, err := refitOpenScript.Run(ctx, w.cache.client,
		[]string{refitKey(userID, key)},
		w.cache.now().UnixMilli(), w.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("refit open: %w", err)
	}
	if len(res) != 2 {
		return nil, errors.New("refit open: unexpected script result")
	}

	return &model.RefitEntry{
		UserID:      userID,
		Key:         key,
		Count:       int(res[0]),
		WindowStart: time.UnixMilli(res[1]),
	}, nil
}

func parseRedisInt(v interface{}) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}
