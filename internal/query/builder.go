// Package query implements the chainable query builder and the executor that
// runs it: authorize, then read or mutate through the document store, then
// evaluate filters, order and window in memory.
package query

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/eval"
	"github.com/mesh-intelligence/docrel/internal/logging"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Authorizer decides whether a query may run. It is invoked once per
// execution, before the store is touched.
type Authorizer interface {
	Authorize(ctx context.Context, state *types.QueryState) error
}

// Executor creates builders bound to one store and one authorizer.
type Executor struct {
	store  types.DocumentStore
	guard  Authorizer
	logger *zap.Logger
	tracer trace.Tracer
}

// NewExecutor returns an Executor. A nil guard authorizes everything.
func NewExecutor(store types.DocumentStore, guard Authorizer, logger *zap.Logger) *Executor {
	logger = logging.OrNop(logger)
	return &Executor{
		store:  store,
		guard:  guard,
		logger: logger,
		tracer: otel.Tracer("github.com/mesh-intelligence/docrel/internal/query"),
	}
}

// From starts a select query against table.
func (e *Executor) From(table string) *Builder {
	return &Builder{exec: e, state: types.QueryState{Table: table, Operation: types.OpSelect}}
}

// Result is the settled outcome of a query. Row is set when Single or
// MaybeSingle was requested. Count is the number of rows matched before
// windowing for selects, and the number of rows touched for writes.
type Result struct {
	Rows  []types.Record
	Row   types.Record
	Count int
}

// Builder accumulates a QueryState. Chain methods mutate the builder and
// return it; once Execute is called the builder is settled and further
// chaining panics with types.ErrBuilderSettled.
type Builder struct {
	exec *Executor

	mu      sync.Mutex
	state   types.QueryState
	err     error
	started bool

	once   sync.Once
	result *Result
	resErr error
}

func (b *Builder) mutate(fn func(s *types.QueryState)) *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic(types.ErrBuilderSettled)
	}
	fn(&b.state)
	return b
}

func (b *Builder) fail(err error) *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic(types.ErrBuilderSettled)
	}
	if b.err == nil {
		b.err = err
	}
	return b
}

// Select marks the query as returning rows. On a select it changes nothing;
// on insert, update or delete it asks for the written rows back.
func (b *Builder) Select() *Builder {
	return b.mutate(func(s *types.QueryState) {
		if s.Operation.IsWrite() {
			s.ReturnRows = true
		}
	})
}

// Insert turns the query into an insert of rows, applied one by one in order.
func (b *Builder) Insert(rows ...types.Record) *Builder {
	if len(rows) == 0 {
		return b.fail(types.ErrInvalidPayload)
	}
	return b.mutate(func(s *types.QueryState) {
		s.Operation = types.OpInsert
		s.Rows = rows
	})
}

// Update turns the query into a patch of every row matching the filters.
func (b *Builder) Update(patch types.Record) *Builder {
	if patch == nil {
		return b.fail(types.ErrInvalidPayload)
	}
	return b.mutate(func(s *types.QueryState) {
		s.Operation = types.OpUpdate
		s.Patch = patch
	})
}

// Delete turns the query into a removal of every row matching the filters.
func (b *Builder) Delete() *Builder {
	return b.mutate(func(s *types.QueryState) {
		s.Operation = types.OpDelete
	})
}

// Where adds an arbitrary filter.
func (b *Builder) Where(f types.Filter) *Builder {
	if !f.Op.Valid() || f.Field == "" {
		return b.fail(types.ErrInvalidFilter)
	}
	return b.mutate(func(s *types.QueryState) {
		s.Filters = append(s.Filters, f)
	})
}

func (b *Builder) Eq(field string, value any) *Builder {
	return b.Where(types.Filter{Field: field, Op: types.OpEq, Value: value})
}

func (b *Builder) Neq(field string, value any) *Builder {
	return b.Where(types.Filter{Field: field, Op: types.OpNeq, Value: value})
}

// In matches rows whose field equals any of values. A lone slice argument is
// expanded, so In("id", ids) behaves like In("id", ids...).
func (b *Builder) In(field string, values ...any) *Builder {
	if len(values) == 1 && isList(values[0]) {
		values = eval.Elements(values[0])
	}
	return b.Where(types.Filter{Field: field, Op: types.OpIn, Value: values})
}

func isList(v any) bool {
	if _, raw := v.([]byte); raw || v == nil {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func (b *Builder) Lt(field string, value any) *Builder {
	return b.Where(types.Filter{Field: field, Op: types.OpLt, Value: value})
}

func (b *Builder) Lte(field string, value any) *Builder {
	return b.Where(types.Filter{Field: field, Op: types.OpLte, Value: value})
}

func (b *Builder) Gt(field string, value any) *Builder {
	return b.Where(types.Filter{Field: field, Op: types.OpGt, Value: value})
}

func (b *Builder) Gte(field string, value any) *Builder {
	return b.Where(types.Filter{Field: field, Op: types.OpGte, Value: value})
}

func (b *Builder) NotNull(field string) *Builder {
	return b.Where(types.Filter{Field: field, Op: types.OpNotNull})
}

// Search matches rows whose field contains term, case-insensitively.
func (b *Builder) Search(field, term string) *Builder {
	return b.Where(types.Filter{Field: field, Op: types.OpSearch, Value: term})
}

// Order sorts selected rows by field. Nulls sort last ascending, first
// descending.
func (b *Builder) Order(field string, ascending bool) *Builder {
	return b.mutate(func(s *types.QueryState) {
		s.Order = &types.Order{Field: field, Ascending: ascending}
	})
}

// Limit caps the number of selected rows. Zero or a negative n means no
// limit. Ignored by update and delete.
func (b *Builder) Limit(n int) *Builder {
	return b.mutate(func(s *types.QueryState) { s.Limit = max(n, 0) })
}

// Offset skips selected rows. Ignored by update and delete.
func (b *Builder) Offset(n int) *Builder {
	return b.mutate(func(s *types.QueryState) { s.Offset = max(n, 0) })
}

// Range selects rows from through to, both inclusive and zero-based.
func (b *Builder) Range(from, to int) *Builder {
	if from < 0 || to < from {
		return b.fail(types.ErrInvalidFilter)
	}
	return b.mutate(func(s *types.QueryState) {
		s.Offset = from
		s.Limit = to - from + 1
	})
}

// Single requires exactly one returned row.
func (b *Builder) Single() *Builder {
	return b.mutate(func(s *types.QueryState) {
		s.Single = true
		s.MaybeSingle = false
	})
}

// MaybeSingle requires at most one returned row.
func (b *Builder) MaybeSingle() *Builder {
	return b.mutate(func(s *types.QueryState) {
		s.MaybeSingle = true
		s.Single = false
	})
}

// State returns a copy of the accumulated query state.
func (b *Builder) State() types.QueryState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs the query once. Later calls, from any goroutine, return the
// same result and error without touching the store again.
func (b *Builder) Execute(ctx context.Context) (*Result, error) {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()

	b.once.Do(func() {
		start := time.Now()
		b.result, b.resErr = b.exec.run(ctx, b.state, b.err)
		b.exec.logger.Debug("query executed",
			zap.String("table", b.state.Table),
			zap.String("op", string(b.state.Operation)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(b.resErr))
	})
	return b.result, b.resErr
}
