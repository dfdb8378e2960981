package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kislikjeka/booksync/internal/app"
)

// CreditOptions holds flags for the credit command
type CreditOptions struct {
	*RootOptions
	Reason string
}

// NewCreditCommand creates the credit command
func NewCreditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "credit <connection-id> [units]",
		Short: "Show or top up a connection's classification allowance",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			connID, err := parseConnectionID(args[0])
			if err != nil {
				return err
			}
			units := 0
			if len(args) == 2 {
				if _, err := fmt.Sscanf(args[1], "%d", &units); err != nil || units <= 0 {
					return fmt.Errorf("units must be a positive integer, got %q", args[1])
				}
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if _, err := a.Mirror.GetConnection(ctx, connID); err != nil {
					return err
				}
				var balance int
				if units > 0 {
					balance, err = a.Meter.Credit(ctx, connID.String(), units, opts.Reason)
				} else {
					balance, err = a.Meter.GetBalance(ctx, connID.String())
				}
				if err != nil {
					return err
				}
				result := map[string]any{"connection_id": connID, "balance": balance}
				return opts.print(cmd, result, func(w io.Writer) {
					fmt.Fprintf(w, "balance: %d\n", balance)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "manual top-up", "reason recorded in the usage stream")

	return cmd
}
