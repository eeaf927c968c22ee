package query

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/docrel/internal/eval"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

func (e *Executor) run(ctx context.Context, state types.QueryState, buildErr error) (*Result, error) {
	if buildErr != nil {
		return nil, buildErr
	}

	ctx, span := e.tracer.Start(ctx, "query.execute", trace.WithAttributes(
		attribute.String("docrel.table", state.Table),
		attribute.String("docrel.operation", string(state.Operation)),
	))
	defer span.End()

	res, err := e.execute(ctx, &state)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("docrel.count", res.Count))
	return res, nil
}

func (e *Executor) execute(ctx context.Context, state *types.QueryState) (*Result, error) {
	if e.guard != nil {
		if err := e.guard.Authorize(ctx, state); err != nil {
			return nil, err
		}
	}

	var (
		res *Result
		err error
	)
	switch state.Operation {
	case types.OpSelect:
		res, err = e.selectRows(ctx, state)
	case types.OpInsert:
		res, err = e.insertRows(ctx, state)
	case types.OpUpdate:
		res, err = e.updateRows(ctx, state)
	case types.OpDelete:
		res, err = e.deleteRows(ctx, state)
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", types.ErrNotSupported, state.Operation)
	}
	if err != nil {
		return nil, err
	}
	if state.Operation.IsWrite() && !state.ReturnRows {
		res.Rows = nil
		return res, nil
	}
	return res, cardinality(res, state)
}

func (e *Executor) selectRows(ctx context.Context, state *types.QueryState) (*Result, error) {
	listed, err := e.store.List(ctx, state.Table, types.ListQuery{
		Filters: state.Filters,
		Order:   state.Order,
		Limit:   state.Limit,
		Offset:  state.Offset,
	})
	if err != nil {
		return nil, err
	}

	rows := eval.FilterAll(listed.Rows, state.Filters)
	if listed.Windowed {
		return &Result{Rows: rows, Count: max(listed.Total, len(rows))}, nil
	}
	rows = eval.Sort(rows, state.Order)
	return &Result{Rows: eval.Window(rows, state.Offset, state.Limit), Count: len(rows)}, nil
}

// matching lists every row the filters select, ignoring any window or order.
func (e *Executor) matching(ctx context.Context, state *types.QueryState) ([]types.Record, error) {
	listed, err := e.store.List(ctx, state.Table, types.ListQuery{Filters: state.Filters})
	if err != nil {
		return nil, err
	}
	return eval.FilterAll(listed.Rows, state.Filters), nil
}

// insertRows creates each row in order and stops at the first failure.
// Earlier rows stay created.
func (e *Executor) insertRows(ctx context.Context, state *types.QueryState) (*Result, error) {
	out := make([]types.Record, 0, len(state.Rows))
	for i, row := range state.Rows {
		created, err := e.store.Create(ctx, state.Table, row)
		if err != nil {
			return nil, &types.BatchError{Index: i, Applied: len(out), Err: err}
		}
		out = append(out, created)
	}
	return &Result{Rows: out, Count: len(out)}, nil
}

// updateRows reads the matching set, then patches each row individually.
// Concurrent overlapping updates are not detected; the last write wins.
func (e *Executor) updateRows(ctx context.Context, state *types.QueryState) (*Result, error) {
	rows, err := e.matching(ctx, state)
	if err != nil {
		return nil, err
	}
	out := make([]types.Record, 0, len(rows))
	for i, row := range rows {
		updated, err := e.store.Update(ctx, state.Table, row.ID(), state.Patch)
		if err != nil {
			return nil, &types.BatchError{Index: i, Applied: len(out), Err: err}
		}
		out = append(out, updated)
	}
	return &Result{Rows: out, Count: len(out)}, nil
}

// deleteRows reads the matching set, then removes each row individually.
// The returned rows are the matched rows as they were before removal.
func (e *Executor) deleteRows(ctx context.Context, state *types.QueryState) (*Result, error) {
	rows, err := e.matching(ctx, state)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if err := e.store.Remove(ctx, state.Table, row.ID()); err != nil {
			return nil, &types.BatchError{Index: i, Applied: i, Err: err}
		}
	}
	return &Result{Rows: rows, Count: len(rows)}, nil
}

func cardinality(res *Result, state *types.QueryState) error {
	if !state.Single && !state.MaybeSingle {
		return nil
	}
	switch {
	case len(res.Rows) > 1:
		return fmt.Errorf("%w: %s returned %d rows", types.ErrMultipleRows, state.Table, len(res.Rows))
	case len(res.Rows) == 1:
		res.Row = res.Rows[0]
	case state.Single:
		return fmt.Errorf("%w: %s", types.ErrNoRows, state.Table)
	}
	return nil
}
