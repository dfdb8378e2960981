package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kislikjeka/booksync/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/booksync/pkg/config"
)

// TokenOptions holds flags for the token command
type TokenOptions struct {
	*RootOptions
	Subject     string
	Connections []string
	TTL         time.Duration
}

// NewTokenCommand creates the token command
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Issue an API bearer token signed with JWT_SECRET.

A token without --connection may reach every connection and register new ones.

Example:
  booksyncctl token --subject ops
  booksyncctl token --subject bookkeeper --connection 6f1c... --ttl 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			conns, err := parseIDs(opts.Connections)
			if err != nil {
				return err
			}
			token, err := middleware.NewJWTService(cfg.JWTSecret).GenerateToken(opts.Subject, conns, opts.TTL)
			if err != nil {
				return err
			}
			result := map[string]any{
				"token":       token,
				"subject":     opts.Subject,
				"connections": conns,
				"expires_at":  time.Now().Add(opts.TTL).UTC(),
			}
			return opts.print(cmd, result, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "", "token subject (required)")
	cmd.Flags().StringSliceVar(&opts.Connections, "connection", nil, "restrict the token to these connection ids")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
