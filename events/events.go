/*
Package events publishes committed scheduling changes.

PURPOSE:
  After the scheduling service commits an order (checkout, admin
  re-assignment, cancellation) it hands a capacity.ScheduleEvent to a
  capacity.Notifier. Implementations here forward it to NATS, to the log,
  or to memory (tests).

WIRE FORMAT:
  JSON, camelCase, dates as "yyyy-MM-dd":

  {
    "id": "6f1c...",
    "kind": "order.reassigned",
    "orderId": "order-42",
    "deliveryDates": [{"date": "2025-03-10", "timeSlot": "09:00-12:00", "itemIds": ["li-1::unit::0"]}],
    "overriddenDates": ["2025-03-10"],
    "at": "2025-03-05T10:00:00Z"
  }

SUBJECTS:
  {subject}.{kind}, e.g. bakery.schedule.order.created

DELIVERY:
  Fire-and-forget. A failed publish is reported to the caller, which logs it;
  the order stays committed.

SEE ALSO:
  - capacity/service.go: Emits the events
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/warp/bakery-scheduler/capacity"
)

// DefaultSubject prefixes every published subject.
const DefaultSubject = "bakery.schedule"

// Message is the JSON form of a schedule event.
type Message struct {
	ID              string         `json:"id"`
	Kind            string         `json:"kind"`
	OrderID         string         `json:"orderId"`
	DeliveryDates   []DeliveryDate `json:"deliveryDates"`
	OverriddenDates []string       `json:"overriddenDates,omitempty"`
	At              time.Time      `json:"at"`
}

type DeliveryDate struct {
	Date     string   `json:"date"`
	TimeSlot string   `json:"timeSlot,omitempty"`
	ItemIDs  []string `json:"itemIds"`
}

// NewMessage converts a schedule event to its wire form.
func NewMessage(ev capacity.ScheduleEvent) Message {
	msg := Message{
		ID:            ev.ID,
		Kind:          string(ev.Kind),
		OrderID:       string(ev.OrderID),
		DeliveryDates: make([]DeliveryDate, 0, len(ev.DeliveryDates)),
		At:            ev.At.UTC(),
	}
	for _, dd := range ev.DeliveryDates {
		msg.DeliveryDates = append(msg.DeliveryDates, DeliveryDate{
			Date:     dd.Date.String(),
			TimeSlot: dd.TimeSlot,
			ItemIDs:  dd.ItemIDs,
		})
	}
	for _, d := range ev.Overridden {
		msg.OverriddenDates = append(msg.OverriddenDates, d.String())
	}
	return msg
}

// =============================================================================
// NATS
// =============================================================================

// MsgPublisher is the slice of *nats.Conn the publisher uses.
type MsgPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes schedule events as core NATS messages.
type NATSPublisher struct {
	pub     MsgPublisher
	conn    *nats.Conn // nil when constructed over a bare MsgPublisher
	subject string
}

// Connect dials NATS and returns a publisher on subject (DefaultSubject if empty).
func Connect(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("bakery-scheduler"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p := NewNATSPublisher(conn, subject)
	p.conn = conn
	return p, nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(pub MsgPublisher, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{pub: pub, subject: subject}
}

// Subject returns the subject an event kind is published on.
func (p *NATSPublisher) Subject(kind capacity.EventKind) string {
	return p.subject + "." + string(kind)
}

// Notify implements capacity.Notifier.
func (p *NATSPublisher) Notify(ctx context.Context, ev capacity.ScheduleEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(NewMessage(ev))
	if err != nil {
		return fmt.Errorf("marshal schedule event: %w", err)
	}
	if err := p.pub.Publish(p.Subject(ev.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Close drains the connection if the publisher owns one.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// =============================================================================
// LOG
// =============================================================================

// LogNotifier writes events to the log. Used when NATS is disabled.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev capacity.ScheduleEvent) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("schedule event",
		slog.String("kind", string(ev.Kind)),
		slog.String("order_id", string(ev.OrderID)),
		slog.Int("dates", len(ev.DeliveryDates)),
		slog.Int("overridden", len(ev.Overridden)))
	return nil
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []capacity.ScheduleEvent
	Err    error // returned from Notify when set
}

func (r *Recorder) Notify(_ context.Context, ev capacity.ScheduleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []capacity.ScheduleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capacity.ScheduleEvent(nil), r.events...)
}

var (
	_ capacity.Notifier = (*NATSPublisher)(nil)
	_ capacity.Notifier = LogNotifier{}
	_ capacity.Notifier = (*Recorder)(nil)
)
