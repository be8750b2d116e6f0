package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fieldscope/cati-back/internal/domain"
)

// LocalQueue is a fallback delivery-task queue used when Redis is not
// configured.
type LocalQueue struct {
	ch          chan domain.DeliveryTask
	maxAttempts int
	logger      *log.Logger

	dlqMu sync.Mutex
	dlq   []domain.DeliveryTask
}

func NewLocalQueue(bufferSize, maxAttempts int, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LocalQueue{
		ch:          make(chan domain.DeliveryTask, bufferSize),
		maxAttempts: maxAttempts,
		logger:      logger,
		dlq:         make([]domain.DeliveryTask, 0),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, task domain.DeliveryTask) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- task:
		return nil
	}
}

func (q *LocalQueue) Consume(
	ctx context.Context,
	handler func(context.Context, domain.DeliveryTask) error,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-q.ch:
			err := handler(ctx, task)
			if err == nil {
				continue
			}

			task.Attempt++
			if task.Attempt >= q.maxAttempts {
				q.dlqMu.Lock()
				q.dlq = append(q.dlq, task)
				q.dlqMu.Unlock()
				if q.logger != nil {
					q.logger.Printf("local queue moved task to DLQ task_id=%s err=%v", task.TaskID, err)
				}
				continue
			}

			delay := time.Duration(task.Attempt) * 500 * time.Millisecond
			go func(retryTask domain.DeliveryTask) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
					select {
					case <-ctx.Done():
					case q.ch <- retryTask:
					}
				}
			}(task)
		}
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}
