// Package engine wires the lexer, parser, validator, evaluator, match
// algebra, and result generator into a single Execute entry point (spec
// §2 pipeline: text → Lexer → Parser → AST → Validator → Evaluator →
// Match Algebra → Result Generator → ResultTable). It is the composition
// root a caller like cmd/corpusql talks to, grounded on the teacher's
// cmd/datalog/main.go, which performs the same lex/parse/plan/execute
// sequence by hand rather than exposing an engine object.
package engine

import (
	"context"
	"time"

	"github.com/wbrown/corpusql/annotate"
	"github.com/wbrown/corpusql/corpqlerr"
	"github.com/wbrown/corpusql/eval"
	"github.com/wbrown/corpusql/extract"
	"github.com/wbrown/corpusql/index"
	"github.com/wbrown/corpusql/parser"
	"github.com/wbrown/corpusql/result"
	"github.com/wbrown/corpusql/validate"
)

// Option configures a single Execute call.
type Option func(*options)

type options struct {
	handler  annotate.Handler
	timeout  time.Duration
	registry *extract.Registry
}

// WithHandler routes observability events (spec §5/§7: invocation,
// completion, validation warnings, leaf/combine steps, errors) to h.
func WithHandler(h annotate.Handler) Option {
	return func(o *options) { o.handler = h }
}

// WithTimeout bounds the query's wall-clock execution (spec §5); on
// expiry Execute returns corpqlerr.Timeout and no partial result.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRegistry overrides the default Value Extractor registry (spec §4.6).
func WithRegistry(r *extract.Registry) Option {
	return func(o *options) { o.registry = r }
}

// Execute runs one query end to end against mgr and tp. On success it
// returns the projected, ordered, limited ResultTable (spec §4.5). It
// never returns a partial table: any error discards whatever work was in
// flight (spec §7 "no combinator swallows failure").
func Execute(ctx context.Context, queryText string, mgr index.Manager, tp index.TextProvider, opts ...Option) (*result.Table, error) {
	cfg := options{registry: extract.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	start := time.Now()
	annotate.Emit(cfg.handler, annotate.Event{
		Name:  annotate.QueryInvoked,
		Start: start,
		Data:  map[string]interface{}{"query": queryText},
	})

	q, err := parser.Parse(queryText)
	if err != nil {
		annotate.Emit(cfg.handler, annotate.Event{Name: annotate.ErrorParse, Data: map[string]interface{}{"error": err.Error()}})
		return nil, err
	}

	if _, err := validate.Validate(q, cfg.handler); err != nil {
		annotate.Emit(cfg.handler, annotate.Event{Name: annotate.ErrorValidate, Data: map[string]interface{}{"error": err.Error()}})
		return nil, err
	}

	if err := corpqlerr.FromContext(ctx); err != nil {
		return nil, err
	}

	ms, err := eval.Evaluate(ctx, eval.Params{
		Manager:     mgr,
		Text:        tp,
		Granularity: q.Granularity,
		Window:      q.WindowSize,
		Handler:     cfg.handler,
	}, q.Conditions)
	if err != nil {
		if ctlErr := corpqlerr.FromContext(ctx); ctlErr != nil {
			return nil, ctlErr
		}
		annotate.Emit(cfg.handler, annotate.Event{Name: annotate.ErrorExecution, Data: map[string]interface{}{"error": err.Error()}})
		return nil, err
	}

	table, err := result.Generate(ctx, q, ms, tp, cfg.registry)
	if err != nil {
		annotate.Emit(cfg.handler, annotate.Event{Name: annotate.ErrorExecution, Data: map[string]interface{}{"error": err.Error()}})
		return nil, err
	}

	annotate.Emit(cfg.handler, annotate.Event{
		Name:    annotate.QueryCompleted,
		Start:   start,
		End:     time.Now(),
		Latency: time.Since(start),
		Data:    map[string]interface{}{"rows": len(table.Rows)},
	})
	return table, nil
}
