package challenge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "pc"
	recordVersion1 = 1
)

// RedisStore backs the Store interface with Redis so multiple instances
// can share pending challenges. Records carry their own expiry and are
// additionally bounded by a key TTL, which stands in for the background
// sweep of the in-process store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(token string) string {
	return redisKeyPrefix + ":" + token
}

// Put registers a new challenge with a TTL matching its expiry.
func (s *RedisStore) Put(ctx context.Context, token string, ch Challenge) error {
	encoded, err := encodeChallenge(ch)
	if err != nil {
		return err
	}
	ttl := time.Until(ch.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: challenge already expired", ErrNotFound)
	}
	if err := s.client.Set(ctx, s.key(token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Validate returns the live record for token, evicting it when expired.
func (s *RedisStore) Validate(ctx context.Context, token string) (Challenge, error) {
	data, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ch, err := decodeChallenge(data)
	if err != nil {
		return Challenge{}, err
	}
	if time.Now().After(ch.ExpiresAt) {
		_, _ = s.client.Del(ctx, s.key(token)).Result()
		return Challenge{}, ErrNotFound
	}
	return ch, nil
}

// IncrementAttempts bumps the counter with an optimistic WATCH
// transaction so concurrent increments never read the same count.
func (s *RedisStore) IncrementAttempts(ctx context.Context, token string) (int, error) {
	const maxRetries = 4
	key := s.key(token)

	for i := 0; i < maxRetries; i++ {
		var count int
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			ch, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			ttl := time.Until(ch.ExpiresAt)
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return redis.Nil
			}

			ch.Attempts++
			count = ch.Attempts

			updated, err := encodeChallenge(ch)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return 0, nil
			}
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return count, nil
	}

	// Contention exhausted the retry budget; report the count unknown.
	return 0, fmt.Errorf("%w: increment retries exhausted", ErrUnavailable)
}

// Invalidate removes token and reports whether it was present.
func (s *RedisStore) Invalidate(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}

func encodeChallenge(ch Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion1)

	if ch.Attempts < 0 || ch.Attempts > 65535 {
		return nil, errors.New("challenge attempt count out of range")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(ch.Attempts)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, ch.CreatedAt.Unix()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, ch.ExpiresAt.Unix()); err != nil {
		return nil, err
	}

	if len(ch.AccountID) > 65535 {
		return nil, errors.New("challenge account id length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(ch.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(ch.AccountID)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Challenge{}, err
	}
	if version != recordVersion1 {
		return Challenge{}, errors.New("invalid challenge record version")
	}

	var attempts uint16
	if err := binary.Read(reader, binary.BigEndian, &attempts); err != nil {
		return Challenge{}, err
	}
	var createdAt, expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return Challenge{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return Challenge{}, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return Challenge{}, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return Challenge{}, err
	}

	return Challenge{
		AccountID: string(id),
		CreatedAt: time.Unix(createdAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
		Attempts:  int(attempts),
	}, nil
}
