package scrape

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const defaultAttemptTimeout = 15 * time.Second

var attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "newsletter",
	Subsystem: "retrieval",
	Name:      "attempts_total",
	Help:      "Document retrieval attempts by strategy and outcome.",
}, []string{"strategy", "outcome"})

// Retriever walks an ordered chain of strategies until one of them returns
// the document. Attempts are sequential; the first success wins.
type Retriever struct {
	logger         *zap.Logger
	strategies     []Strategy
	attemptTimeout time.Duration
}

type RetrieverOption func(r *Retriever)

// RetrieverWithAttemptTimeout bounds every single attempt.
func RetrieverWithAttemptTimeout(timeout time.Duration) RetrieverOption {
	return func(r *Retriever) {
		if timeout > 0 {
			r.attemptTimeout = timeout
		}
	}
}

func NewRetriever(logger *zap.Logger, strategies []Strategy, opts ...RetrieverOption) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retriever{
		logger:         logger,
		strategies:     strategies,
		attemptTimeout: defaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// chainAttempt names the failure recorded when the chain stops before trying a strategy.
const chainAttempt = "chain"

// Retrieve returns the raw markup of the document at documentURL.
// If every strategy fails the error is a *RetrievalError.
func (r *Retriever) Retrieve(ctx context.Context, documentURL string) (string, error) {
	if documentURL == "" {
		return "", ErrEmptyDocumentURL
	}
	if len(r.strategies) == 0 {
		return "", ErrNoStrategies
	}

	retrievalErr := &RetrievalError{}
	for _, strategy := range r.strategies {
		if err := ctx.Err(); err != nil {
			retrievalErr.Attempts = append(retrievalErr.Attempts, AttemptError{Strategy: chainAttempt, Err: err})
			return "", retrievalErr
		}

		start := time.Now()
		body, err := r.attempt(ctx, strategy, documentURL)
		if err != nil {
			attemptsTotal.WithLabelValues(strategy.Name(), outcome(err)).Inc()
			r.logger.Warn("retrieval attempt failed",
				zap.String("strategy", strategy.Name()),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			retrievalErr.Attempts = append(retrievalErr.Attempts, AttemptError{Strategy: strategy.Name(), Err: err})
			continue
		}

		attemptsTotal.WithLabelValues(strategy.Name(), "success").Inc()
		r.logger.Info("document retrieved",
			zap.String("strategy", strategy.Name()),
			zap.Int("bytes", len(body)),
			zap.Duration("duration", time.Since(start)),
		)
		return string(body), nil
	}
	return "", retrievalErr
}

func (r *Retriever) attempt(ctx context.Context, strategy Strategy, documentURL string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()
	return strategy.Fetch(attemptCtx, documentURL)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrUnexpectedStatus):
		return "status"
	case errors.Is(err, ErrEmptyPayload):
		return "empty"
	case errors.Is(err, ErrContentTooLarge):
		return "too_large"
	default:
		return "error"
	}
}
