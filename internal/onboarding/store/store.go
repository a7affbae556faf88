// internal/onboarding/store/store.go

// Package store persists wizard sessions in Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/common/logger"
	"merchant-onboarding/internal/onboarding/sequencer"
	"merchant-onboarding/internal/onboarding/wizard"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix         = "onboarding:session:"
	defaultMaxRetries = 5
)

var ErrSessionExists = errors.New("SESSION_EXISTS")

// Store keeps sessions as JSON documents with a sliding TTL: every read or
// write pushes the expiry out by ttl.
type Store struct {
	redis      *redis.Client
	ttl        time.Duration
	maxRetries int
	logger     logger.Logger
}

func New(client *redis.Client, ttl time.Duration, log logger.Logger) *Store {
	return &Store{
		redis:      client,
		ttl:        ttl,
		maxRetries: defaultMaxRetries,
		logger:     log.WithFields(map[string]interface{}{"component": "session-store"}),
	}
}

func key(id string) string {
	return keyPrefix + id
}

// Create stores a new session. It fails if the id is taken.
func (s *Store) Create(ctx context.Context, sess *wizard.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, key(sess.ID), data, s.ttl).Result()
	if err != nil {
		return apperrors.NewCacheUnavailableError(err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, sess.ID)
	}
	return nil
}

// Get loads a session and refreshes its TTL.
func (s *Store) Get(ctx context.Context, id string) (*wizard.Session, error) {
	val, err := s.redis.GetEx(ctx, key(id), s.ttl).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NewSessionNotFoundError(id)
		}
		return nil, apperrors.NewCacheUnavailableError(err)
	}
	return decode(id, val)
}

// Update applies fn to the stored session under optimistic locking and
// writes the result back. A concurrent write makes the transaction fail and
// fn is re-run on the fresh copy. An error from fn aborts without writing.
func (s *Store) Update(ctx context.Context, id string, fn func(*wizard.Session) error) (*wizard.Session, error) {
	k := key(id)
	var (
		updated *wizard.Session
		fnErr   error
	)

	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, k).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return apperrors.NewSessionNotFoundError(id)
			}
			return apperrors.NewCacheUnavailableError(err)
		}

		sess, err := decode(id, val)
		if err != nil {
			return err
		}
		if fnErr = fn(sess); fnErr != nil {
			return fnErr
		}

		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, s.ttl)
			return nil
		})
		if err == nil {
			updated = sess
		}
		return err
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.redis.Watch(ctx, txf, k)
		if err == nil {
			return updated, nil
		}
		if fnErr != nil {
			return nil, fnErr
		}
		if !errors.Is(err, redis.TxFailedErr) {
			if _, ok := apperrors.As(err); ok {
				return nil, err
			}
			return nil, apperrors.NewCacheUnavailableError(err)
		}
		s.logger.Debug("session update conflict, retrying", map[string]interface{}{
			"sessionId": id,
			"attempt":   attempt,
		})
	}

	return nil, apperrors.NewSessionConflictError(id)
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, key(id)).Err(); err != nil {
		return apperrors.NewCacheUnavailableError(err)
	}
	return nil
}

func decode(id, val string) (*wizard.Session, error) {
	var sess wizard.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("decode session %s: %w", id, err))
	}
	if sess.Accumulator == nil {
		sess.Accumulator = wizard.NewAccumulator()
	}
	sess.Index = sequencer.ClampIndex(sess.Index, sess.Plan)
	return &sess, nil
}
