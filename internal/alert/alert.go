// Package alert sends rate-limited operator notifications.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/jtfnews/internal/logging"
)

// AlertType selects the cooldown that applies to a notification.
type AlertType int

const (
	APIFailure AlertType = iota
	CreditsLow
	QueueBackup
	Offline
	Contradiction
	General
)

var typeNames = [...]string{
	APIFailure:    "api_failure",
	CreditsLow:    "credits_low",
	QueueBackup:   "queue_backup",
	Offline:       "offline",
	Contradiction: "contradiction",
	General:       "general",
}

func (t AlertType) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("alert(%d)", int(t))
}

// ParseType maps a config name onto an AlertType.
func ParseType(name string) (AlertType, bool) {
	for i, n := range typeNames {
		if n == name {
			return AlertType(i), true
		}
	}
	return 0, false
}

// DefaultCooldowns returns the built-in windows. Zero means never throttled.
func DefaultCooldowns() map[AlertType]time.Duration {
	return map[AlertType]time.Duration{
		APIFailure:    time.Hour,
		CreditsLow:    24 * time.Hour,
		QueueBackup:   6 * time.Hour,
		Offline:       0,
		Contradiction: 0,
		General:       time.Hour,
	}
}

// Sender delivers an alert message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// LogSender writes alerts to the log. Used when no chat is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, text string) error {
	logging.Warn("ALERT", "msg", text)
	return nil
}

// Throttler sends at most one alert per type per cooldown window. The
// window is checked and claimed before sending, so a failed send still
// counts.
type Throttler struct {
	mu        sync.Mutex
	sender    Sender
	fallback  Sender
	cooldowns map[AlertType]time.Duration
	lastSent  map[AlertType]time.Time
	limiter   *rate.Limiter
	now       func() time.Time

	// OnSent is called after each delivered alert.
	OnSent func(AlertType)
}

// NewThrottler creates a throttler. overrides replace individual default
// cooldowns; perMinute caps total sends across all types (0 disables).
func NewThrottler(sender Sender, overrides map[AlertType]time.Duration, perMinute int) *Throttler {
	cd := DefaultCooldowns()
	for k, v := range overrides {
		cd[k] = v
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return &Throttler{
		sender:    sender,
		fallback:  LogSender{},
		cooldowns: cd,
		lastSent:  make(map[AlertType]time.Time),
		limiter:   lim,
		now:       time.Now,
	}
}

// Cooldown returns the window for a type. Unknown types use General's.
func (t *Throttler) Cooldown(typ AlertType) time.Duration {
	if d, ok := t.cooldowns[typ]; ok {
		return d
	}
	return t.cooldowns[General]
}

// Notify sends msg unless typ is inside its cooldown. It reports whether the
// alert went out. A send error is returned after the message has been
// written to the fallback log.
func (t *Throttler) Notify(ctx context.Context, typ AlertType, msg string) (bool, error) {
	t.mu.Lock()
	now := t.now()
	cd := t.Cooldown(typ)
	if last, ok := t.lastSent[typ]; ok && cd > 0 && now.Sub(last) < cd {
		t.mu.Unlock()
		logging.Info("alert throttled", "type", typ.String(), "msg", msg, "next_after", last.Add(cd))
		return false, nil
	}
	if !t.limiter.AllowN(now, 1) {
		t.mu.Unlock()
		logging.Warn("alert rate cap reached", "type", typ.String(), "msg", msg)
		return false, nil
	}
	t.lastSent[typ] = now
	t.mu.Unlock()

	text := "JTF: " + msg
	if err := t.sender.Send(ctx, text); err != nil {
		t.fallback.Send(ctx, text)
		return false, fmt.Errorf("send %s alert: %w", typ, err)
	}
	logging.Warn("alert sent", "type", typ.String(), "msg", msg)
	if t.OnSent != nil {
		t.OnSent(typ)
	}
	return true, nil
}

// LastSent returns when typ last claimed its window.
func (t *Throttler) LastSent(typ AlertType) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastSent[typ]
	return ts, ok
}
