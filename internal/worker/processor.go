package worker

import (
	"context"
	"log"
	"time"

	"github.com/fieldscope/cati-back/internal/domain"
	"github.com/fieldscope/cati-back/internal/queue"
	"github.com/fieldscope/cati-back/internal/reconcile"
)

// Processor consumes delivery tasks and runs the reconciler over them. The
// webhook endpoint already acked the provider, so this side only has to be
// durable and eventually consistent.
type Processor struct {
	consumer   queue.Consumer
	reconciler *reconcile.Reconciler
	logger     *log.Logger
}

func NewProcessor(
	consumer queue.Consumer,
	reconciler *reconcile.Reconciler,
	logger *log.Logger,
) *Processor {
	return &Processor{
		consumer:   consumer,
		reconciler: reconciler,
		logger:     logger,
	}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processTask)
		if err == nil || ctx.Err() != nil {
			return
		}
		if p.logger != nil {
			p.logger.Printf("worker consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processTask(ctx context.Context, task domain.DeliveryTask) error {
	if err := p.reconciler.Process(ctx, task.RawPayload); err != nil {
		return err
	}
	if p.logger != nil {
		p.logger.Printf("delivery task processed task_id=%s", task.TaskID)
	}
	return nil
}
