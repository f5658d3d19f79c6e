package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/fieldsync/internal/model"
	"github.com/jwalitptl/fieldsync/internal/repository"
)

const maxTxRetries = 10

// DraftStore keeps each user's draft list as one JSON value under
// <prefix>:<user> and tracks users with drafts in the <prefix>:owners set.
type DraftStore struct {
	client *redis.Client
	prefix string
}

func NewDraftStore(client *redis.Client, prefix string) repository.DraftStore {
	if prefix == "" {
		prefix = "drafts"
	}
	return &DraftStore{client: client, prefix: prefix}
}

func (s *DraftStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *DraftStore) ownersKey() string {
	return s.prefix + ":owners"
}

func (s *DraftStore) Load(ctx context.Context, userID string) ([]*model.Draft, error) {
	return read(ctx, s.client, s.key(userID))
}

// Update applies fn under WATCH so concurrent writers for the same user retry
// instead of overwriting each other.
func (s *DraftStore) Update(ctx context.Context, userID string, fn func([]*model.Draft) ([]*model.Draft, error)) ([]*model.Draft, error) {
	key := s.key(userID)
	var stored []*model.Draft

	txf := func(tx *redis.Tx) error {
		current, err := read(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode drafts: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(next) == 0 {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.ownersKey(), userID)
				return nil
			}
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.ownersKey(), userID)
			return nil
		})
		if err != nil {
			return err
		}
		stored = next
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return stored, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("drafts for %s changed concurrently %d times", userID, maxTxRetries)
}

func (s *DraftStore) Owners(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, s.ownersKey()).Result()
}

func (s *DraftStore) Close() error {
	return s.client.Close()
}

func read(ctx context.Context, c redis.Cmdable, key string) ([]*model.Draft, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read drafts: %w", err)
	}

	var drafts []*model.Draft
	if err := json.Unmarshal(data, &drafts); err != nil {
		return nil, fmt.Errorf("failed to decode drafts: %w", err)
	}
	return drafts, nil
}
