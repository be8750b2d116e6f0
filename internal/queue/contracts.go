package queue

import (
	"context"

	"github.com/fieldscope/cati-back/internal/domain"
)

// Producer hands delivery tasks to a queue backend. The webhook endpoint
// produces; acknowledgment to the provider never waits on this.
type Producer interface {
	Enqueue(ctx context.Context, task domain.DeliveryTask) error
}

// Consumer receives delivery tasks and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.DeliveryTask) error) error
}
