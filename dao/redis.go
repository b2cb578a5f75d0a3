package dao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultKeyPrefix  = "bookbot:"
	defaultMaxRetries = 3
)

type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	TTL        time.Duration
	MaxRetries int
}

// RedisStore keeps each state document as one JSON string. Saves merge the
// changed keys under WATCH so concurrent writers of other keys are not lost.
type RedisStore struct {
	client     *redis.Client
	keyPrefix  string
	ttl        time.Duration
	maxRetries int
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newRedisStore(client, opts)
}

func newRedisStore(client *redis.Client, opts RedisOptions) *RedisStore {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &RedisStore{
		client:     client,
		keyPrefix:  defaultKeyPrefix,
		ttl:        ttl,
		maxRetries: retries,
	}
}

func (s *RedisStore) key(scope, id string) string {
	return s.keyPrefix + scope + ":" + id
}

func (s *RedisStore) Load(ctx context.Context, scope, id string) (map[string]json.RawMessage, error) {
	if err := validateKey(scope, id); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.key(scope, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state document: %w", err)
	}
	return doc, nil
}

// Save merges changes into the stored document with an optimistic lock.
func (s *RedisStore) Save(ctx context.Context, scope, id string, changes map[string]json.RawMessage) error {
	if err := validateKey(scope, id); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	key := s.key(scope, id)
	for i := 0; i <= s.maxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			merged, err := mergeDocument(current, changes)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, merged, s.ttl)
				return nil
			})
			return err
		}, key)

		retry, retryErr := shouldRetry(err)
		if !retry {
			return retryErr
		}
		if i < s.maxRetries {
			// linear backoff
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond * time.Duration(10*(i+1))):
			}
			continue
		}
		return fmt.Errorf("%w for %s: %v", ErrMaxRetries, key, retryErr)
	}
	return fmt.Errorf("%w for %s", ErrMaxRetries, key)
}

// mergeDocument overlays changes on the stored document. A stored value that
// is not a JSON object is replaced.
func mergeDocument(current []byte, changes map[string]json.RawMessage) ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(changes))
	if len(current) > 0 {
		if err := json.Unmarshal(current, &doc); err != nil {
			doc = make(map[string]json.RawMessage, len(changes))
		}
	}
	for k, v := range changes {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// shouldRetry reports whether a WATCH transaction lost a race.
func shouldRetry(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return true, fmt.Errorf("%w: %v", ErrStateConflict, err)
	}
	return false, err
}

func (s *RedisStore) Delete(ctx context.Context, scope, id string) error {
	if err := validateKey(scope, id); err != nil {
		return err
	}
	return s.client.Del(ctx, s.key(scope, id)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
