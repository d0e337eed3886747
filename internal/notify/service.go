// Package notify schedules local trip reminders through a platform
// notification backend.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ktransport/internal/model"
)

const (
	PickupLeadTime  = 30 * time.Minute
	ArrivalLeadTime = 5 * time.Minute
)

var ErrUnknownNotification = errors.New("notification not found")

type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Delivery is a notification handed to the user at At.
type Delivery struct {
	ID           string       `json:"id"`
	Notification Notification `json:"notification"`
	At           time.Time    `json:"at"`
}

// Platform is the device notification API.
type Platform interface {
	RequestPermission(ctx context.Context) (bool, error)
	Present(ctx context.Context, n Notification) (string, error)
	Schedule(ctx context.Context, n Notification, at time.Time) (string, error)
	Cancel(ctx context.Context, id string) error
}

// Service never returns platform errors; failures are logged and reported
// as an empty id.
type Service struct {
	platform Platform
	clock    func() time.Time
	log      *slog.Logger

	mu          sync.Mutex
	initialized bool
}

func NewService(platform Platform, clock func() time.Time, log *slog.Logger) *Service {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{platform: platform, clock: clock, log: log}
}

// Initialize asks for permission until it has been granted once.
func (s *Service) Initialize(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return true
	}
	if s.platform == nil {
		s.log.Warn("notification platform not configured")
		return false
	}
	granted, err := s.platform.RequestPermission(ctx)
	if err != nil {
		s.log.Error("notification permission request failed", slog.String("error", err.Error()))
		return false
	}
	if !granted {
		s.log.Warn("notification permission denied")
		return false
	}
	s.initialized = true
	return true
}

func (s *Service) SendNow(ctx context.Context, n Notification) string {
	if !s.Initialize(ctx) {
		return ""
	}
	id, err := s.platform.Present(ctx, n)
	if err != nil {
		s.log.Error("present notification failed", slog.String("title", n.Title), slog.String("error", err.Error()))
		return ""
	}
	return id
}

// ScheduleAt presents immediately when at is not in the future.
func (s *Service) ScheduleAt(ctx context.Context, n Notification, at time.Time) string {
	if !at.After(s.clock()) {
		return s.SendNow(ctx, n)
	}
	if !s.Initialize(ctx) {
		return ""
	}
	id, err := s.platform.Schedule(ctx, n, at)
	if err != nil {
		s.log.Error("schedule notification failed", slog.String("title", n.Title), slog.String("error", err.Error()))
		return ""
	}
	s.log.Debug("notification scheduled", slog.String("id", id), slog.Time("at", at))
	return id
}

func (s *Service) ScheduleIn(ctx context.Context, n Notification, delay time.Duration) string {
	return s.ScheduleAt(ctx, n, s.clock().Add(delay))
}

// SchedulePickupReminder fires PickupLeadTime before pickupAt. Pickups that
// already happened are skipped.
func (s *Service) SchedulePickupReminder(ctx context.Context, bookingID string, pickupAt time.Time) string {
	if !pickupAt.After(s.clock()) {
		s.log.Info("pickup already passed, reminder skipped", slog.String("booking_id", bookingID))
		return ""
	}
	return s.ScheduleAt(ctx, Notification{
		Title: "Pickup reminder",
		Body:  fmt.Sprintf("Your ride picks you up at %s. Please be ready in 30 minutes.", pickupAt.Format("15:04")),
		Data:  map[string]string{"type": "pickup_reminder", "bookingId": bookingID},
	}, pickupAt.Add(-PickupLeadTime))
}

// ScheduleArrivalReminder fires ArrivalLeadTime before arrivalAt.
func (s *Service) ScheduleArrivalReminder(ctx context.Context, tripID string, arrivalAt time.Time) string {
	if !arrivalAt.After(s.clock()) {
		s.log.Info("arrival already passed, reminder skipped", slog.String("trip_id", tripID))
		return ""
	}
	return s.ScheduleAt(ctx, Notification{
		Title: "Arriving soon",
		Body:  "You will arrive at your destination in about 5 minutes.",
		Data:  map[string]string{"type": "arrival_reminder", "tripId": tripID},
	}, arrivalAt.Add(-ArrivalLeadTime))
}

func (s *Service) NotifyBookingConfirmed(ctx context.Context, booking model.Booking) string {
	return s.SendNow(ctx, Notification{
		Title: "Booking confirmed",
		Body: fmt.Sprintf("Your trip from %s to %s on %s is confirmed.",
			booking.PickupLocation, booking.DropoffLocation, booking.PickupTime.Format("Mon 2 Jan 15:04")),
		Data: map[string]string{"type": "booking_confirmed", "bookingId": booking.ID},
	})
}

func (s *Service) Cancel(ctx context.Context, id string) {
	if id == "" || s.platform == nil {
		return
	}
	if err := s.platform.Cancel(ctx, id); err != nil {
		s.log.Warn("cancel notification failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}
