package qc

import (
	"context"
	"log"
	"time"
)

// Sweeper invokes the engine's daily sweep on a fixed interval. The admin
// endpoint calls RunSweep directly with the same idempotent semantics.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *log.Logger
}

func NewSweeper(engine *Engine, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.engine.RunSweep(ctx)
			if err != nil {
				if s.logger != nil {
					s.logger.Printf("qc sweep failed: %v", err)
				}
				continue
			}
			if swept > 0 && s.logger != nil {
				s.logger.Printf("qc sweep completed batches=%d", swept)
			}
		}
	}
}
