package qc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/fieldscope/cati-back/internal/domain"
	"github.com/fieldscope/cati-back/internal/repository"
)

type Config struct {
	// SampleFraction of a batch drawn for human review, e.g. 0.4.
	SampleFraction float64
	// ApprovalThresholdPct above which the remainder auto-approves, e.g. 50.
	ApprovalThresholdPct float64
}

// Engine groups a survey's daily pending-review responses into batches,
// draws the review sample and applies the remainder decision exactly once.
type Engine struct {
	batches   repository.BatchesRepository
	responses repository.ResponsesRepository
	config    Config
	logger    *log.Logger

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

func NewEngine(
	batches repository.BatchesRepository,
	responses repository.ResponsesRepository,
	config Config,
	logger *log.Logger,
) *Engine {
	if config.SampleFraction <= 0 || config.SampleFraction > 1 {
		config.SampleFraction = 0.4
	}
	if config.ApprovalThresholdPct <= 0 {
		config.ApprovalThresholdPct = 50
	}
	return &Engine{
		batches:   batches,
		responses: responses,
		config:    config,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		shuffle:   rand.Shuffle,
	}
}

// Intake appends a freshly recorded pending-review response to its
// (survey, day) batch. Membership is only open while the batch is still
// collecting; a straggler past the sweep is left pending for manual review.
func (e *Engine) Intake(ctx context.Context, response *domain.InterviewResponse) error {
	day := domain.BatchDay(response.CompletedAt)
	batch, err := e.batches.GetOrCreateBatch(ctx, response.SurveyID, day)
	if err != nil {
		return fmt.Errorf("get or create batch: %w", err)
	}

	if batch.Status != domain.BatchStatusCollecting {
		if e.logger != nil {
			e.logger.Printf(
				"batch %s already %s, response %s skips sampling",
				batch.ID, batch.Status, response.ID,
			)
		}
		return nil
	}

	for _, id := range batch.ResponseIDs {
		if id == response.ID {
			return nil
		}
	}
	batch.ResponseIDs = append(batch.ResponseIDs, response.ID)
	batch.UpdatedAt = e.now()
	if err := e.batches.UpdateBatch(ctx, batch); err != nil {
		return fmt.Errorf("append response to batch: %w", err)
	}
	return nil
}

// RunSweep freezes every collecting batch that has responses, draws the
// random sample and moves the batch into review. Idempotent no-op when no
// batch is eligible; safe to invoke from both the scheduler and the admin
// trigger.
func (e *Engine) RunSweep(ctx context.Context) (int, error) {
	collecting, err := e.batches.ListCollectingBatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("list collecting batches: %w", err)
	}

	swept := 0
	for _, batch := range collecting {
		if len(batch.ResponseIDs) == 0 {
			continue
		}
		if err := e.freeze(ctx, batch); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

func (e *Engine) freeze(ctx context.Context, batch *domain.QCBatch) error {
	total := len(batch.ResponseIDs)
	sampleSize := int(math.Ceil(e.config.SampleFraction * float64(total)))
	if sampleSize > total {
		sampleSize = total
	}

	// Uniform permutation without replacement over a copy; ResponseIDs
	// keeps its original order so sample and remainder always partition it.
	shuffled := append([]string(nil), batch.ResponseIDs...)
	e.shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	batch.SampleIDs = append([]string(nil), shuffled[:sampleSize]...)
	batch.RemainderIDs = append([]string(nil), shuffled[sampleSize:]...)
	batch.SamplePending = sampleSize
	batch.SampleApproved = 0
	batch.SampleRejected = 0
	batch.Status = domain.BatchStatusProcessing
	batch.UpdatedAt = e.now()
	if err := e.batches.UpdateBatch(ctx, batch); err != nil {
		return fmt.Errorf("freeze batch: %w", err)
	}

	batch.Status = domain.BatchStatusQCInProgress
	batch.UpdatedAt = e.now()
	if err := e.batches.UpdateBatch(ctx, batch); err != nil {
		return fmt.Errorf("flag batch for review: %w", err)
	}

	if e.logger != nil {
		e.logger.Printf(
			"batch swept batch_id=%s survey_id=%s day=%s total=%d sample=%d",
			batch.ID, batch.SurveyID, batch.Day, total, sampleSize,
		)
	}
	return e.Recompute(ctx, batch.ID)
}

// ReviewSample records a human decision on one sample response and
// recomputes the batch stats.
func (e *Engine) ReviewSample(ctx context.Context, responseID string, approved bool) error {
	batch, err := e.batches.GetBatchForResponse(ctx, responseID)
	if err != nil {
		return err
	}
	if !batch.InSample(responseID) {
		return fmt.Errorf("%w: response %s is not in the review sample", domain.ErrValidation, responseID)
	}
	if batch.Status.Decided() {
		return fmt.Errorf("%w: batch %s already decided", domain.ErrStateConflict, batch.ID)
	}

	response, err := e.responses.GetResponse(ctx, responseID)
	if err != nil {
		return err
	}
	if approved {
		response.Status = domain.ResponseStatusApproved
	} else {
		response.Status = domain.ResponseStatusRejected
	}
	response.UpdatedAt = e.now()
	if err := e.responses.UpdateResponse(ctx, response); err != nil {
		return fmt.Errorf("update reviewed response: %w", err)
	}

	return e.Recompute(ctx, batch.ID)
}

// Recompute recounts the sample and, once no review is pending, applies the
// remainder decision. The terminal-status guard in DecideBatch makes the
// decision exactly-once no matter whether the sweep or a reviewer action
// observes pending == 0 first; recomputing a decided batch is a no-op.
func (e *Engine) Recompute(ctx context.Context, batchID string) error {
	batch, err := e.batches.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status.Decided() {
		return nil
	}
	if batch.Status != domain.BatchStatusQCInProgress {
		return nil
	}

	approved, rejected, pending := 0, 0, 0
	for _, responseID := range batch.SampleIDs {
		response, err := e.responses.GetResponse(ctx, responseID)
		if err != nil {
			return fmt.Errorf("load sample response %s: %w", responseID, err)
		}
		switch response.Status {
		case domain.ResponseStatusApproved:
			approved++
		case domain.ResponseStatusRejected:
			rejected++
		default:
			pending++
		}
	}

	batch.SampleApproved = approved
	batch.SampleRejected = rejected
	batch.SamplePending = pending
	if pending == 0 && approved+rejected > 0 {
		batch.ApprovalRate = float64(approved) / float64(approved+rejected) * 100
	}
	batch.UpdatedAt = e.now()
	if err := e.batches.UpdateBatch(ctx, batch); err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			return nil
		}
		return fmt.Errorf("store batch stats: %w", err)
	}

	if pending > 0 {
		return nil
	}
	return e.decide(ctx, batch)
}

func (e *Engine) decide(ctx context.Context, batch *domain.QCBatch) error {
	status := domain.BatchStatusQueuedForQC
	if batch.ApprovalRate > e.config.ApprovalThresholdPct {
		status = domain.BatchStatusAutoApproved
	}

	won, err := e.batches.DecideBatch(ctx, batch.ID, status, e.now())
	if err != nil {
		return fmt.Errorf("decide batch: %w", err)
	}
	if !won {
		return nil
	}

	if status == domain.BatchStatusAutoApproved {
		if err := e.responses.SetResponseStatuses(
			ctx, batch.RemainderIDs, domain.ResponseStatusApproved,
		); err != nil {
			return fmt.Errorf("auto-approve remainder: %w", err)
		}
	}
	// queued_for_qc leaves the remainder pending_review: that is the human
	// review queue.

	if e.logger != nil {
		e.logger.Printf(
			"batch decided batch_id=%s status=%s approval_rate=%.1f remainder=%d",
			batch.ID, status, batch.ApprovalRate, len(batch.RemainderIDs),
		)
	}
	return nil
}
