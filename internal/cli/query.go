package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/docrel/internal/eval"
	"github.com/mesh-intelligence/docrel/internal/query"
	"github.com/mesh-intelligence/docrel/internal/realtime"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

const filterHelp = `Filters are field=op.value pairs (op is eq, neq, lt, lte, gt, gte or in,
e.g. status=eq.open, priority=gt.2, id=in.(a,b)). A bare field=value is an
equality match whose value is read as JSON when it parses, else as a string.
Numbers stay text so id=123 matches both "123" and 123. Filters are ANDed.`

// queryFlags are the shaping flags shared by select, update and delete.
type queryFlags struct {
	eq          []string
	notNull     []string
	search      []string
	order       string
	limit       int
	offset      int
	single      bool
	maybeSingle bool
	returning   bool
	count       bool
	all         bool
}

func (f *queryFlags) bindFilters(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.eq, "eq", nil, "equality match field=value (repeatable)")
	cmd.Flags().StringArrayVar(&f.notNull, "not-null", nil, "require field to be non-null (repeatable)")
	cmd.Flags().StringArrayVar(&f.search, "search", nil, "case-insensitive substring match field=term (repeatable)")
}

func (f *queryFlags) bindShape(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.order, "order", "", "sort by field; prefix with - for descending")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum rows returned")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "rows skipped before the first returned")
}

func (f *queryFlags) bindCardinality(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.single, "single", false, "fail unless exactly one row is returned")
	cmd.Flags().BoolVar(&f.maybeSingle, "maybe-single", false, "fail when more than one row is returned")
}

// parseFilterArg reads one positional filter.
func parseFilterArg(arg string) (types.Filter, error) {
	if f, err := realtime.ParseLegacyFilter(arg); err == nil {
		return f, nil
	}
	field, raw, ok := strings.Cut(arg, "=")
	if !ok || field == "" {
		return types.Filter{}, userErrorf("invalid filter %q (expected field=op.value or field=value)", arg)
	}
	return types.Filter{Field: field, Op: types.OpEq, Value: decodeScalar(raw)}, nil
}

// decodeScalar reads raw as JSON when it parses, else keeps it as a string.
// Plain numbers are kept as strings.
func decodeScalar(raw string) any {
	if eval.IsNumeric(raw) {
		return raw
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// apply adds positional filters and flag-driven shaping to b.
func (f *queryFlags) apply(b *query.Builder, filterArgs []string) (*query.Builder, error) {
	for _, arg := range filterArgs {
		filter, err := parseFilterArg(arg)
		if err != nil {
			return nil, err
		}
		b = b.Where(filter)
	}
	for _, kv := range f.eq {
		field, raw, ok := strings.Cut(kv, "=")
		if !ok || field == "" {
			return nil, userErrorf("invalid --eq %q (expected field=value)", kv)
		}
		b = b.Eq(field, decodeScalar(raw))
	}
	for _, field := range f.notNull {
		b = b.NotNull(field)
	}
	for _, s := range f.search {
		field, term, ok := strings.Cut(s, "=")
		if !ok || field == "" {
			return nil, userErrorf("invalid --search %q (expected field=term)", s)
		}
		b = b.Search(field, term)
	}
	if f.order != "" {
		field, desc := strings.CutPrefix(f.order, "-")
		b = b.Order(field, !desc)
	}
	if f.limit > 0 {
		b = b.Limit(f.limit)
	}
	if f.offset > 0 {
		b = b.Offset(f.offset)
	}
	if f.single {
		b = b.Single()
	} else if f.maybeSingle {
		b = b.MaybeSingle()
	}
	if f.returning {
		b = b.Select()
	}
	return b, nil
}

// requireFilter guards update and delete against touching every row by accident.
func (f *queryFlags) requireFilter(filterArgs []string) error {
	if len(filterArgs) == 0 && len(f.eq) == 0 && len(f.notNull) == 0 && len(f.search) == 0 && !f.all {
		return userErrorf("refusing to touch every row without a filter; pass --all to confirm")
	}
	return nil
}

func newSelectCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "select <table> [filter...]",
		Short: "Print the rows of a table that match filters",
		Long:  "Select rows from a table.\n\n" + filterHelp,
		Example: `  docrel select tasks status=eq.open --order -priority --limit 10
  docrel select profiles id=in.(u1,u2)
  docrel select tasks id=t1 --single`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd, &f, args[0], args[1:], func(b *query.Builder) *query.Builder { return b.Select() })
		},
	}
	f.bindFilters(cmd)
	f.bindShape(cmd)
	f.bindCardinality(cmd)
	cmd.Flags().BoolVar(&f.count, "count", false, "print only the number of matching rows")
	return cmd
}

func newInsertCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "insert <table> <json|->",
		Short: "Insert one row (JSON object) or several (JSON array)",
		Long:  "Insert rows into a table. Rows are written one by one in order; a failure stops the batch\nand reports how many rows were applied. Use - to read the JSON from stdin.",
		Example: `  docrel insert tasks '{"title":"Write docs","status":"open"}' --select
  docrel insert tasks - < rows.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := a.readRows(args[1])
			if err != nil {
				return err
			}
			return a.runQuery(cmd, &f, args[0], nil, func(b *query.Builder) *query.Builder { return b.Insert(rows...) })
		},
	}
	cmd.Flags().BoolVar(&f.returning, "select", false, "print the inserted rows")
	f.bindCardinality(cmd)
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "update <table> <json-patch|-> [filter...]",
		Short: "Patch every row that matches filters",
		Long:  "Apply a JSON object patch to the matching rows, one row at a time.\n\n" + filterHelp,
		Example: `  docrel update tasks '{"status":"done"}' id=eq.t1 --select`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.requireFilter(args[2:]); err != nil {
				return err
			}
			patch, err := a.readObject(args[1])
			if err != nil {
				return err
			}
			return a.runQuery(cmd, &f, args[0], args[2:], func(b *query.Builder) *query.Builder { return b.Update(patch) })
		},
	}
	f.bindFilters(cmd)
	f.bindCardinality(cmd)
	cmd.Flags().BoolVar(&f.returning, "select", false, "print the updated rows")
	cmd.Flags().BoolVar(&f.all, "all", false, "allow updating without a filter")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:     "delete <table> [filter...]",
		Short:   "Delete every row that matches filters",
		Long:    "Delete the matching rows, one row at a time.\n\n" + filterHelp,
		Example: `  docrel delete task_comments task_id=eq.t1 --select`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.requireFilter(args[1:]); err != nil {
				return err
			}
			return a.runQuery(cmd, &f, args[0], args[1:], func(b *query.Builder) *query.Builder { return b.Delete() })
		},
	}
	f.bindFilters(cmd)
	f.bindCardinality(cmd)
	cmd.Flags().BoolVar(&f.returning, "select", false, "print the deleted rows")
	cmd.Flags().BoolVar(&f.all, "all", false, "allow deleting without a filter")
	return cmd
}

// runQuery builds and executes one query and prints its result.
func (a *app) runQuery(cmd *cobra.Command, f *queryFlags, table string, filterArgs []string, op func(*query.Builder) *query.Builder) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	defer c.Close()

	b, err := f.apply(op(c.From(table)), filterArgs)
	if err != nil {
		return err
	}
	res, err := b.Execute(cmd.Context())
	if err != nil {
		return explainQueryError(table, err)
	}

	state := b.State()
	switch {
	case f.count:
		return a.printJSON(cmd, map[string]int{"count": res.Count})
	case state.Operation.IsWrite() && !state.ReturnRows:
		return a.printJSON(cmd, map[string]int{"count": res.Count})
	case state.Single || state.MaybeSingle:
		return a.printJSON(cmd, res.Row)
	default:
		return a.printJSON(cmd, res.Rows)
	}
}

// explainQueryError marks caller mistakes as user errors and adds context.
func explainQueryError(table string, err error) error {
	var batch *types.BatchError
	switch {
	case errors.As(err, &batch):
		return fmt.Errorf("%s: %w", table, err)
	case errors.Is(err, types.ErrTableUnmapped),
		errors.Is(err, types.ErrForbidden),
		errors.Is(err, types.ErrInvalidFilter),
		errors.Is(err, types.ErrInvalidPayload),
		errors.Is(err, types.ErrNoRows),
		errors.Is(err, types.ErrMultipleRows):
		return &userError{err: fmt.Errorf("%s: %w", table, err)}
	default:
		return fmt.Errorf("%s: %w", table, err)
	}
}

func (a *app) readInput(arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	data, err := io.ReadAll(a.stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

// readRows accepts a JSON object or an array of objects.
func (a *app) readRows(arg string) ([]types.Record, error) {
	data, err := a.readInput(arg)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var rows []types.Record
		if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
			return nil, userErrorf("rows must be a JSON object or array of objects: %v", err)
		}
		if len(rows) == 0 {
			return nil, userErrorf("no rows to insert")
		}
		return rows, nil
	}
	row, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	return []types.Record{row}, nil
}

func (a *app) readObject(arg string) (types.Record, error) {
	data, err := a.readInput(arg)
	if err != nil {
		return nil, err
	}
	return decodeObject(data)
}

func decodeObject(data []byte) (types.Record, error) {
	var rec types.Record
	if err := json.Unmarshal(data, &rec); err != nil || rec == nil {
		return nil, userErrorf("expected a JSON object: %s", strings.TrimSpace(string(data)))
	}
	return rec, nil
}

func (a *app) printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if !a.flags.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
