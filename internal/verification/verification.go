// Package verification issues and checks one-time phone and email codes.
package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ktransport/internal/crypto"
)

type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelEmail Channel = "email"
)

// MaxAttempts is how many wrong guesses a pending code survives.
const MaxAttempts = 5

var (
	ErrCodeNotFound    = errors.New("no pending verification code")
	ErrCodeMismatch    = errors.New("verification code does not match")
	ErrTooManyAttempts = errors.New("too many verification attempts")
)

type Record struct {
	Target string `json:"target"`
	Code   string `json:"code"`
}

type CodeStore interface {
	Save(ctx context.Context, channel Channel, userID string, record Record, ttl time.Duration) error
	Load(ctx context.Context, channel Channel, userID string) (Record, bool, error)
	Clear(ctx context.Context, channel Channel, userID string) error
	// AddFailure counts a wrong guess against the pending code and returns
	// the total so far. Save resets the count.
	AddFailure(ctx context.Context, channel Channel, userID string, ttl time.Duration) (int, error)
}

// CodeSender delivers a code to a phone number or mailbox.
type CodeSender interface {
	Send(ctx context.Context, channel Channel, target, code string) error
}

type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, channel Channel, target, code string) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("verification code issued",
		slog.String("channel", string(channel)),
		slog.String("target", target),
		slog.String("code", code),
	)
	return nil
}

type Service struct {
	store  CodeStore
	sender CodeSender
	ttl    time.Duration
}

func NewService(store CodeStore, sender CodeSender, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{store: store, sender: sender, ttl: ttl}
}

// Issue replaces any pending code for the user on that channel.
func (s *Service) Issue(ctx context.Context, channel Channel, userID, target string) error {
	target = NormalizeTarget(channel, target)
	code, err := crypto.NewVerificationCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.store.Save(ctx, channel, userID, Record{Target: target, Code: code}, s.ttl); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	if err := s.sender.Send(ctx, channel, target, code); err != nil {
		_ = s.store.Clear(ctx, channel, userID)
		return fmt.Errorf("send code: %w", err)
	}
	return nil
}

// Verify consumes the pending code when it matches. After MaxAttempts wrong
// guesses the code is discarded and ErrTooManyAttempts is returned.
func (s *Service) Verify(ctx context.Context, channel Channel, userID, target, code string) error {
	record, ok, err := s.store.Load(ctx, channel, userID)
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}
	if !ok {
		return ErrCodeNotFound
	}
	if record.Target != NormalizeTarget(channel, target) ||
		subtle.ConstantTimeCompare([]byte(record.Code), []byte(strings.TrimSpace(code))) != 1 {
		return s.fail(ctx, channel, userID)
	}
	if err := s.store.Clear(ctx, channel, userID); err != nil {
		return fmt.Errorf("clear code: %w", err)
	}
	return nil
}

func (s *Service) fail(ctx context.Context, channel Channel, userID string) error {
	attempts, err := s.store.AddFailure(ctx, channel, userID, s.ttl)
	if err != nil {
		return fmt.Errorf("count failed attempt: %w", err)
	}
	if attempts < MaxAttempts {
		return ErrCodeMismatch
	}
	if err := s.store.Clear(ctx, channel, userID); err != nil {
		return fmt.Errorf("clear code: %w", err)
	}
	return ErrTooManyAttempts
}

// NormalizeTarget lowercases emails and strips spaces from phone numbers.
func NormalizeTarget(channel Channel, target string) string {
	target = strings.TrimSpace(target)
	if channel == ChannelEmail {
		return strings.ToLower(target)
	}
	return strings.ReplaceAll(target, " ", "")
}

func key(channel Channel, userID string) string {
	return fmt.Sprintf("verify:%s:%s", channel, userID)
}

func attemptsKey(channel Channel, userID string) string {
	return key(channel, userID) + ":attempts"
}
