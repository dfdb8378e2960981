package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kislikjeka/booksync/internal/app"
	"github.com/kislikjeka/booksync/internal/platform/classify"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// NewSyncCommand creates the sync command
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <connection-id>",
		Short: "Run one sync pass for a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connID, err := parseConnectionID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Sync.SyncConnection(ctx, connID)
				if err != nil {
					return err
				}
				return opts.print(cmd, report, nil)
			})
		},
	}
}

// ClassifyOptions holds flags for the classify command
type ClassifyOptions struct {
	*RootOptions
	Limit       int
	Transaction string
	LocalOnly   bool
}

// NewClassifyCommand creates the classify command
func NewClassifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClassifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "classify <connection-id>",
		Short: "Classify unmatched transactions of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connID, err := parseConnectionID(args[0])
			if err != nil {
				return err
			}
			req := classify.Request{
				ConnectionID:  connID,
				Limit:         opts.Limit,
				AllowProvider: !opts.LocalOnly,
			}
			if opts.Transaction != "" {
				id, err := uuid.Parse(opts.Transaction)
				if err != nil {
					return fmt.Errorf("invalid transaction id %q: %w", opts.Transaction, err)
				}
				req.TransactionID = &id
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return opts.print(cmd, a.Classify.Classify(ctx, req), nil)
			})
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of transactions to classify")
	cmd.Flags().StringVar(&opts.Transaction, "transaction", "", "classify a single transaction")
	cmd.Flags().BoolVar(&opts.LocalOnly, "local-only", false, "skip the provider stage")

	return cmd
}

// ApproveOptions holds flags for the approve command
type ApproveOptions struct {
	*RootOptions
	Pending bool
	Limit   int
}

// NewApproveCommand creates the approve command
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApproveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "approve <connection-id> [transaction-id...]",
		Short: "Write approved classifications back to the accounting system",
		Long: `Write approved classifications back to the accounting system.

Pass transaction ids, or --pending to approve every record waiting for approval.

Example:
  booksyncctl approve 6f1c... 0b7e... 91aa...
  booksyncctl approve 6f1c... --pending --limit 50`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connID, err := parseConnectionID(args[0])
			if err != nil {
				return err
			}
			ids, err := parseIDs(args[1:])
			if err != nil {
				return err
			}
			if len(ids) > 0 && opts.Pending {
				return fmt.Errorf("pass transaction ids or --pending, not both")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if opts.Pending {
					excluded := false
					txs, err := a.Mirror.ListTransactions(ctx, mirror.TransactionFilter{
						ConnectionID: connID,
						Statuses:     []mirror.Status{mirror.StatusPendingApproval},
						Excluded:     &excluded,
						Limit:        opts.Limit,
					})
					if err != nil {
						return err
					}
					for _, tx := range txs {
						ids = append(ids, tx.ID)
					}
				}
				if len(ids) == 0 {
					return mirror.ErrNothingToApprove
				}
				report := a.Writeback.BulkApprove(ctx, connID, ids)
				return opts.print(cmd, report, func(w io.Writer) {
					fmt.Fprintf(w, "approved %d, failed %d\n", report.Succeeded, report.Failed)
					for _, id := range report.FailedIDs() {
						fmt.Fprintf(w, "  failed: %s\n", id)
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Pending, "pending", false, "approve every record pending approval")
	cmd.Flags().IntVar(&opts.Limit, "limit", 500, "maximum number of pending records to approve")

	return cmd
}

// NewReevaluateCommand creates the reevaluate command
func NewReevaluateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reevaluate <connection-id>",
		Short: "Re-run resolution over stored payloads and fix drifted records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connID, err := parseConnectionID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Mirror.Reevaluate(ctx, connID)
				if err != nil {
					return err
				}
				return opts.print(cmd, report, func(w io.Writer) {
					fmt.Fprintf(w, "checked %d, changed %d, failed %d\n", report.Checked, report.Changed, report.Failed)
				})
			})
		},
	}
}
