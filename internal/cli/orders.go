package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tay1862/kinsaep-pos-sub005/internal/config"
	"github.com/tay1862/kinsaep-pos-sub005/internal/money"
	"github.com/tay1862/kinsaep-pos-sub005/internal/order"
	"github.com/tay1862/kinsaep-pos-sub005/internal/store"
)

// OrdersOptions holds flags for the orders command.
type OrdersOptions struct {
	*RootOptions
	Status string
	Type   string
	Table  string
}

// OrderRow is one line of the orders listing.
type OrderRow struct {
	Code     string `json:"code"`
	Status   string `json:"status"`
	Type     string `json:"type"`
	Table    string `json:"table,omitempty"`
	Total    string `json:"total"`
	Revision int64  `json:"revision"`
	Updated  string `json:"updatedAt"`
}

// NewOrdersCommand creates the orders command.
func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OrdersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders in the local store",
		Long: `List the orders held in this terminal's local store, newest
first.

Example:
  posd orders --config ./pos.yaml
  posd orders --status completed --format json
  posd orders --table t1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listOrders(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (pending, completed, ...)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter by order type (dine_in, take_away, ...)")
	cmd.Flags().StringVar(&opts.Table, "table", "", "filter by table id")

	return cmd
}

func listOrders(opts *OrdersOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	local, err := store.OpenSQLite(cfg.Store.LocalPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open local store", err)
	}
	defer local.Close()

	orders, err := local.List(ctx, store.Filter{
		Status:  order.Status(opts.Status),
		Type:    order.Type(opts.Type),
		TableID: opts.Table,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list orders", err)
	}

	formatter, err := money.NewFormatter(cfg.Currency.Code, cfg.Currency.Decimals)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid currency code", err)
	}

	rows := make([]OrderRow, len(orders))
	for i, o := range orders {
		rows[i] = OrderRow{
			Code:     o.Code,
			Status:   string(o.Status),
			Type:     string(o.Type),
			Table:    o.TableID,
			Total:    formatter.Format(o.Totals.Total),
			Revision: o.Revision,
			Updated:  o.UpdatedAt.Format("2006-01-02 15:04:05"),
		}
	}

	out := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return out.Success(rows)
	}
	return out.Success(renderOrderTable(rows))
}

func renderOrderTable(rows []OrderRow) string {
	if len(rows) == 0 {
		return "no orders"
	}
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tSTATUS\tTYPE\tTABLE\tTOTAL\tREV\tUPDATED")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Code, r.Status, r.Type, r.Table, r.Total, r.Revision, r.Updated)
	}
	w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}
