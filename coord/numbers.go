package coord

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

// NextFunc produces the candidate number for the given attempt, 1-based.
type NextFunc func(ctx context.Context, attempt int) (string, error)

// InsertFunc claims the candidate. It reports types.ErrNumberConflict
// when the number is already taken; any other error aborts the run.
type InsertFunc func(ctx context.Context, number string) error

// NumberResult carries the allocated number and how many attempts the
// allocation took.
type NumberResult struct {
	Number   string `json:"number"`
	Attempts int    `json:"attempts"`
}

// NumberGenerator allocates unique document numbers optimistically:
// generate a candidate, try to claim it, and on a uniqueness conflict
// retry with a fresh candidate after a short randomized delay. The
// attempt budget is fixed; exhausting it surfaces ErrNumberExhausted
// to the caller, since the uniqueness invariant can no longer be
// guaranteed silently.
type NumberGenerator struct {
	logger      types.Logger
	next        NextFunc
	insert      InsertFunc
	maxAttempts int
	baseDelay   time.Duration
}

type GeneratorConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func NewNumberGenerator(logger types.Logger, next NextFunc, insert InsertFunc, config ...GeneratorConfig) (*NumberGenerator, error) {
	if next == nil || insert == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "next and insert functions are required")
	}

	generator := &NumberGenerator{
		logger:      logger,
		next:        next,
		insert:      insert,
		maxAttempts: 5,
		baseDelay:   50 * time.Millisecond,
	}

	if len(config) > 0 {
		if config[0].MaxAttempts > 0 {
			generator.maxAttempts = config[0].MaxAttempts
		}
		if config[0].BaseDelay > 0 {
			generator.baseDelay = config[0].BaseDelay
		}
	}

	return generator, nil
}

func (g *NumberGenerator) Generate(ctx context.Context) (NumberResult, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		number, err := g.next(ctx, attempt)
		if err != nil {
			return NumberResult{Attempts: attempt}, types.WrapError(err, "candidate generation failed")
		}

		err = g.insert(ctx, number)
		if err == nil {
			if attempt > 1 {
				g.logger.Debug("Number allocated after retries",
					zap.String("number", number),
					zap.Int("attempts", attempt))
			}
			return NumberResult{Number: number, Attempts: attempt}, nil
		}

		if !types.IsError(err, types.ErrNumberConflict) {
			return NumberResult{Attempts: attempt}, types.WrapError(err, "number insert failed")
		}

		if attempt == g.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return NumberResult{Attempts: attempt}, types.WrapError(ctx.Err(), "number generation cancelled")
		case <-time.After(g.backoff(attempt)):
		}
	}

	return NumberResult{Attempts: g.maxAttempts}, types.Errorf(types.ErrNumberExhausted, "attempts: %d", g.maxAttempts)
}

// backoff keeps the delay short and randomized so colliding writers
// spread out instead of retrying in lockstep.
func (g *NumberGenerator) backoff(attempt int) time.Duration {
	return g.baseDelay*time.Duration(attempt) + time.Duration(rand.Int63n(int64(g.baseDelay)))
}
