package engine

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/metrics"
	"github.com/therealutkarshpriyadarshi/panocam/internal/tracing"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// Pending is an issued engine call whose result has not been read
type Pending struct {
	op     Op
	ch     <-chan Result
	base   context.Context
	span   opentracing.Span
	start  time.Time
	logger *logging.Logger
}

// Issue starts call inside a span parented on ctx. The call itself runs
// under base, so it outlives the caller's request but not its controller.
func Issue(ctx, base context.Context, logger *logging.Logger, op Op, mode models.CaptureMode, call func(context.Context) <-chan Result) *Pending {
	span, _ := tracing.StartEngineSpan(ctx, string(op), string(mode))
	return &Pending{
		op:     op,
		ch:     call(opentracing.ContextWithSpan(base, span)),
		base:   base,
		span:   span,
		start:  time.Now(),
		logger: logger,
	}
}

// Wait blocks for the result, or for base to end
func (p *Pending) Wait() Result {
	var r Result
	select {
	case res, ok := <-p.ch:
		r = res
		if !ok {
			r = Result{Err: models.EngineError(-1, "engine closed result channel")}
		}
	case <-p.base.Done():
		r = Result{Err: p.base.Err()}
	}

	d := time.Since(p.start)
	tracing.FinishWithError(p.span, r.Err)
	metrics.RecordEngineCall(string(p.op), d.Seconds(), r.Err)
	p.logger.LogEngineEvent(string(p.op), d, r.Err)
	return r
}
