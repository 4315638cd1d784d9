package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "fingpt:journal:"

// Redis keeps each conversation as a capped list of JSON entries.
type Redis struct {
	rdb *redis.Client
	max int
}

// NewRedis connects using a redis:// URL. max caps entries per conversation
// (0 keeps all).
func NewRedis(ctx context.Context, url string, max int) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("journal: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("journal: redis ping: %w", err)
	}
	return &Redis{rdb: rdb, max: max}, nil
}

func (r *Redis) key(conversationID string) string {
	return redisKeyPrefix + conversationID
}

func (r *Redis) Record(ctx context.Context, ex Exchange) error {
	ex = Stamp(ex)
	raw, err := json.Marshal(ex)
	if err != nil {
		return err
	}
	key := r.key(ex.ConversationID)
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, raw)
	if r.max > 0 {
		pipe.LTrim(ctx, key, int64(-r.max), -1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Recent(ctx context.Context, conversationID string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		return nil, nil
	}
	vals, err := r.rdb.LRange(ctx, r.key(conversationID), int64(-limit), -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Exchange, 0, len(vals))
	for _, v := range vals {
		var ex Exchange
		if err := json.Unmarshal([]byte(v), &ex); err != nil {
			return nil, fmt.Errorf("journal: decode entry: %w", err)
		}
		out = append(out, ex)
	}
	return out, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
