package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/realtime"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		event   string
		filter  string
		refetch bool
	)
	cmd := &cobra.Command{
		Use:   "watch <table>...",
		Short: "Print a line whenever a watched table changes",
		Long: "Subscribe to changes on one or more tables until interrupted. The store's push\n" +
			"channel is used when available; otherwise the tables are polled and every tick\n" +
			"counts as a change.",
		Example: `  docrel watch tasks --event UPDATE --filter status=eq.open
  docrel watch tasks projects --refetch`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, tables []string) error {
			kind := strings.ToUpper(event)
			switch kind {
			case realtime.EventAll, realtime.EventInsert, realtime.EventUpdate, realtime.EventDelete:
			default:
				return userErrorf("invalid --event %q (want INSERT, UPDATE, DELETE or *)", event)
			}
			var f *types.Filter
			if filter != "" {
				parsed, err := realtime.ParseLegacyFilter(filter)
				if err != nil {
					return &userError{err: err}
				}
				f = &parsed
			}

			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			changes := make(chan string, 16)
			ch := c.Channel("cli-watch")
			for _, table := range tables {
				table := table
				ch.On(realtime.Listen{Event: kind, Table: table, Filter: f}, func() {
					select {
					case changes <- table:
					default:
					}
				})
			}
			sub := ch.Subscribe(func(s realtime.Status, err error) {
				if err != nil {
					a.logger.Warn("watch status", zap.String("status", string(s)), zap.Error(err))
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", s)
			})
			defer sub.Unsubscribe()

			for {
				select {
				case <-ctx.Done():
					return nil
				case table := <-changes:
					line := map[string]any{"time": time.Now().UTC().Format(time.RFC3339), "table": table, "mode": sub.Mode()}
					if refetch {
						b := c.From(table).Select()
						if f != nil {
							b = b.Where(*f)
						}
						res, err := b.Execute(ctx)
						if err != nil {
							a.logger.Warn("refetch failed", zap.String("table", table), zap.Error(err))
						} else {
							line["rows"] = res.Rows
						}
					}
					if err := a.printJSON(cmd, line); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&event, "event", realtime.EventAll, "change kind: INSERT, UPDATE, DELETE or *")
	cmd.Flags().StringVar(&filter, "filter", "", "only changes whose row matches field=op.value")
	cmd.Flags().BoolVar(&refetch, "refetch", false, "print the matching rows after each change")
	return cmd
}
