package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisPlatform keeps scheduled notifications in a sorted set scored by due
// time so any dispatcher process can deliver them.
type RedisPlatform struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
	log    *slog.Logger
}

func NewRedisPlatform(client *redis.Client, prefix string, log *slog.Logger) (*RedisPlatform, error) {
	if client == nil {
		return nil, errors.New("redis_not_configured")
	}
	if prefix == "" {
		prefix = "ktransport:notifications"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisPlatform{client: client, prefix: prefix, clock: time.Now, log: log}, nil
}

// RequestPermission always succeeds; a server-side queue needs no consent.
func (p *RedisPlatform) RequestPermission(context.Context) (bool, error) {
	return true, nil
}

func (p *RedisPlatform) Present(ctx context.Context, n Notification) (string, error) {
	return p.Schedule(ctx, n, p.clock())
}

func (p *RedisPlatform) Schedule(ctx context.Context, n Notification, at time.Time) (string, error) {
	delivery := Delivery{ID: uuid.NewString(), Notification: n, At: at.UTC()}
	payload, err := json.Marshal(delivery)
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.payloadKey(), delivery.ID, payload)
		pipe.ZAdd(ctx, p.scheduleKey(), redis.Z{Score: float64(at.UnixMilli()), Member: delivery.ID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue notification: %w", err)
	}
	return delivery.ID, nil
}

func (p *RedisPlatform) Cancel(ctx context.Context, id string) error {
	removed, err := p.client.ZRem(ctx, p.scheduleKey(), id).Result()
	if err != nil {
		return fmt.Errorf("cancel notification: %w", err)
	}
	if err := p.client.HDel(ctx, p.payloadKey(), id).Err(); err != nil {
		return fmt.Errorf("cancel notification payload: %w", err)
	}
	if removed == 0 {
		return ErrUnknownNotification
	}
	return nil
}

// Due claims and returns every notification due at or before now. Each
// entry is claimed by removing it from the schedule, so concurrent
// dispatchers never deliver the same notification twice.
func (p *RedisPlatform) Due(ctx context.Context, now time.Time) ([]Delivery, error) {
	ids, err := p.client.ZRangeByScore(ctx, p.scheduleKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due notifications: %w", err)
	}

	out := make([]Delivery, 0, len(ids))
	for _, id := range ids {
		claimed, err := p.client.ZRem(ctx, p.scheduleKey(), id).Result()
		if err != nil {
			return out, fmt.Errorf("claim notification %s: %w", id, err)
		}
		if claimed == 0 {
			continue
		}
		raw, err := p.client.HGet(ctx, p.payloadKey(), id).Result()
		if err == redis.Nil {
			p.log.Warn("scheduled notification has no payload", slog.String("id", id))
			continue
		}
		if err != nil {
			return out, fmt.Errorf("load notification %s: %w", id, err)
		}
		if err := p.client.HDel(ctx, p.payloadKey(), id).Err(); err != nil {
			p.log.Warn("drop notification payload failed", slog.String("id", id), slog.String("error", err.Error()))
		}

		var delivery Delivery
		if err := json.Unmarshal([]byte(raw), &delivery); err != nil {
			p.log.Error("notification payload is corrupt, dropping", slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		out = append(out, delivery)
	}
	return out, nil
}

func (p *RedisPlatform) scheduleKey() string {
	return p.prefix + ":scheduled"
}

func (p *RedisPlatform) payloadKey() string {
	return p.prefix + ":payload"
}
