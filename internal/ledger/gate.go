package ledger

import (
	"context"
	"fmt"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"
)

// Pipeline is the external report-generation pipeline, seen only through
// this interface.
type Pipeline func(ctx context.Context) ([]byte, error)

// Gate wraps credit reservation around a pipeline run: reserve one credit,
// run the pipeline, refund on failure. The refund also runs when the
// pipeline panics or the request context is canceled mid-flight.
type Gate struct {
	engine *Engine
	log    *logger.Logger
}

// NewGate creates the consumption gate.
func NewGate(engine *Engine, log *logger.Logger) *Gate {
	return &Gate{engine: engine, log: log}
}

// Run reserves a credit for userID and invokes pipeline. On pipeline
// failure the credit is refunded and the pipeline's error is returned
// unchanged (wrapped for context, unwrappable). Reservation failures
// (ErrInsufficientCredits, ErrPlanExpired, ErrNoSubscription) are returned
// without invoking the pipeline.
func (g *Gate) Run(ctx context.Context, userID string, pipeline Pipeline) (result []byte, err error) {
	_, reservation, err := g.engine.ConsumeCredit(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The refund must run even on panic or cancellation; it uses a context
	// detached from the request.
	defer func() {
		if r := recover(); r != nil {
			g.refund(ctx, reservation)
			panic(r)
		}
		if err != nil {
			g.refund(ctx, reservation)
		}
	}()

	result, err = pipeline(ctx)
	if err != nil {
		return nil, fmt.Errorf("report pipeline failed: %w", err)
	}
	return result, nil
}

func (g *Gate) refund(ctx context.Context, reservation *domain.Reservation) {
	if err := g.engine.RefundCredit(context.WithoutCancel(ctx), reservation); err != nil {
		// The credit is lost if this fails; loud log for manual repair.
		g.log.Errorw("Failed to refund reserved credit after pipeline failure",
			"error", err, "userID", reservation.UserID)
	}
}
