package analytics

import (
	"context"
	"encoding/json"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/calebreyes-ai/lumina-backend/pkg/logger"
	"github.com/google/uuid"
)

const publishTimeout = 5 * time.Second

// Event is a fire-and-forget analytics record. Delivery is best effort;
// buffering and retry live downstream, not here.
type Event struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	UserID     string         `json:"user_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Publisher emits analytics events. Implementations must never block the
// caller on delivery guarantees.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) *gcppubsub.PublishResult
}

// PubSubPublisher sends events to the analytics topic, logging failures.
type PubSubPublisher struct {
	topic topicPublisher
	logg  *logger.Logger
}

// NewPubSubPublisher wraps a Pub/Sub publisher handle. A nil topic yields a
// publisher that drops everything, which keeps wiring optional in dev.
func NewPubSubPublisher(topic *gcppubsub.Publisher, logg *logger.Logger) *PubSubPublisher {
	if topic == nil {
		return &PubSubPublisher{logg: logg}
	}
	return &PubSubPublisher{topic: topic, logg: logg}
}

// Publish encodes and sends the event. Errors are logged and swallowed.
func (p *PubSubPublisher) Publish(ctx context.Context, event Event) {
	if p == nil || p.topic == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		if p.logg != nil {
			p.logg.Error(ctx, "analytics event encode failed", err)
		}
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	result := p.topic.Publish(publishCtx, &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_name": event.Name,
		},
	})
	if result == nil {
		return
	}
	if _, err := result.Get(publishCtx); err != nil {
		if p.logg != nil {
			p.logg.Error(ctx, "analytics event publish failed", err)
		}
	}
}

// Noop discards every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) {}
