// Package notify delivers push notifications for sink lifecycle and
// resource events through shoutrrr service URLs.
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"sync"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/engine"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/logging"
)

const defaultSendTimeout = 10 * time.Second

// Type categorizes a notification.
type Type string

const (
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
	TypeSystem  Type = "system"
)

// Priority indicates the urgency level of a notification.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Notification is a single outbound event.
type Notification struct {
	Type      Type
	Priority  Priority
	Title     string
	Message   string
	Component string
	Timestamp time.Time
}

// New creates a notification stamped with the current time.
func New(typ Type, priority Priority, title, message string) *Notification {
	return &Notification{
		Type:      typ,
		Priority:  priority,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithComponent tags the notification with its source component.
func (n *Notification) WithComponent(component string) *Notification {
	n.Component = component
	return n
}

// sender is the slice of the shoutrrr router the notifier uses.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier fans notifications out to the configured shoutrrr URLs.
// Repeats of the same title inside the configured minimum interval are
// suppressed so flapping resources do not flood the channels.
type Notifier struct {
	enabled     bool
	minInterval time.Duration
	sender      sender
	log         *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewNotifier builds a notifier from the notify settings. A disabled
// notifier is valid and swallows every Send.
func NewNotifier(settings conf.NotifySettings) (*Notifier, error) {
	n := &Notifier{
		enabled:     settings.Enabled,
		minInterval: settings.MinInterval,
		log:         logging.ForService("notify"),
		lastSent:    make(map[string]time.Time),
	}

	if !settings.Enabled {
		return n, nil
	}

	if len(settings.URLs) == 0 {
		return nil, errors.Newf("notify is enabled but no service URLs are configured").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}

	router, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		return nil, errors.New(err).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router.Timeout = defaultSendTimeout
	// The router logs full service URLs, which may carry tokens
	router.SetLogger(log.New(io.Discard, "", 0))
	n.sender = router

	return n, nil
}

// Enabled reports whether deliveries will actually go out.
func (n *Notifier) Enabled() bool {
	return n.enabled && n.sender != nil
}

// Send delivers the notification to every configured URL. Suppressed
// repeats and disabled notifiers return nil.
func (n *Notifier) Send(_ context.Context, notification *Notification) error {
	if !n.Enabled() {
		return nil
	}
	if n.suppressed(notification.Title) {
		n.log.Debug("Suppressed repeat notification",
			"title", notification.Title,
			"min_interval", n.minInterval)
		return nil
	}

	params := stypes.Params{}
	if notification.Title != "" {
		params.SetTitle(notification.Title)
	}

	for _, sendErr := range n.sender.Send(notification.Message, &params) {
		if sendErr != nil {
			return errors.New(sendErr).
				Component("notify").
				Category(errors.CategoryNotification).
				Context("title", notification.Title).
				Build()
		}
	}

	n.markSent(notification.Title)
	n.log.Info("Notification delivered",
		"type", string(notification.Type),
		"priority", string(notification.Priority),
		"title", notification.Title)
	return nil
}

func (n *Notifier) suppressed(title string) bool {
	if n.minInterval <= 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.lastSent[title]
	return ok && time.Since(last) < n.minInterval
}

func (n *Notifier) markSent(title string) {
	if n.minInterval <= 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastSent[title] = time.Now()
}

// SessionStarted implements the engine session listener and announces a
// new Bluetooth connection.
func (n *Notifier) SessionStarted(session engine.Session) {
	if !n.Enabled() {
		return
	}
	message := fmt.Sprintf("Bluetooth device %s connected", session.Device)
	notification := New(TypeInfo, PriorityLow, "Device connected", message).WithComponent("engine")
	if err := n.Send(context.Background(), notification); err != nil {
		n.log.Error("Failed to deliver session notification", "error", err)
	}
}

// SessionEnded announces a finished session with its codec and duration.
func (n *Notifier) SessionEnded(session engine.Session) {
	if !n.Enabled() {
		return
	}
	message := fmt.Sprintf("Bluetooth device %s disconnected", session.Device)
	if !session.DisconnectedAt.IsZero() && !session.ConnectedAt.IsZero() {
		message += fmt.Sprintf(" after %s", session.DisconnectedAt.Sub(session.ConnectedAt).Round(time.Second))
	}
	if session.Codec.Name != "" {
		message += fmt.Sprintf(" (%s, %d Hz)", session.Codec.Name, session.Codec.SampleRate)
	}
	notification := New(TypeInfo, PriorityLow, "Device disconnected", message).WithComponent("engine")
	if err := n.Send(context.Background(), notification); err != nil {
		n.log.Error("Failed to deliver session notification", "error", err)
	}
}
