package jobs

import (
	"context"
	"log/slog"
	"time"

	"ktransport/internal/config"
	"ktransport/internal/notify"
)

// DueQueue yields notifications whose trigger time has passed.
type DueQueue interface {
	Due(ctx context.Context, now time.Time) ([]notify.Delivery, error)
}

func StartReminderDispatch(ctx context.Context, cfg config.Client, queue DueQueue, deliver func(notify.Delivery), log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	if queue == nil || deliver == nil {
		log.Info("reminder dispatch disabled: queue not configured")
		return
	}
	interval := cfg.ReminderInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.ReminderTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dispatchDue(ctx, timeout, queue, deliver, log)
			}
		}
	}()
}

func dispatchDue(ctx context.Context, timeout time.Duration, queue DueQueue, deliver func(notify.Delivery), log *slog.Logger) int {
	tickCtx, cancel := context.WithTimeout(ctx, timeout)
	due, err := queue.Due(tickCtx, time.Now().UTC())
	cancel()
	for _, d := range due {
		deliver(d)
	}
	if err != nil {
		log.Error("reminder dispatch error", slog.String("error", err.Error()))
	}
	if len(due) > 0 {
		log.Info("reminder dispatch delivered", slog.Int("count", len(due)))
	}
	return len(due)
}
