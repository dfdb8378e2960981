package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/kislikjeka/booksync/internal/app"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/pkg/config"
)

// NewRulesCommand creates the rules command group
func NewRulesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage classification rules and vendor aliases",
	}

	importCmd := &cobra.Command{
		Use:   "import <connection-id> <file.yaml>",
		Short: "Import rules and aliases from a YAML file",
		Long: `Import rules and aliases from a YAML file.

Example file:
  rules:
    - name: Cloud hosting
      priority: 10
      description_contains: aws
      category: Software
      tags: [infra]
  aliases:
    - match: AMZN MKTP
      vendor: Amazon`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			connID, err := parseConnectionID(args[0])
			if err != nil {
				return err
			}
			file, err := config.LoadRulesFile(args[1])
			if err != nil {
				return err
			}
			rules, aliases, err := convertRulesFile(connID, file)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if _, err := a.Mirror.GetConnection(ctx, connID); err != nil {
					return err
				}
				for _, r := range rules {
					if err := a.Mirror.CreateRule(ctx, r); err != nil {
						return fmt.Errorf("rule %q: %w", r.Name, err)
					}
				}
				for _, al := range aliases {
					if err := a.Mirror.CreateAlias(ctx, al); err != nil {
						return fmt.Errorf("alias %q: %w", al.Match, err)
					}
				}
				result := map[string]int{"rules": len(rules), "aliases": len(aliases)}
				return opts.print(cmd, result, func(w io.Writer) {
					fmt.Fprintf(w, "imported %d rule(s) and %d alias(es)\n", len(rules), len(aliases))
				})
			})
		},
	}

	cmd.AddCommand(importCmd)
	return cmd
}

// convertRulesFile turns a parsed seed file into mirror rules and aliases
func convertRulesFile(connID uuid.UUID, file *config.RulesFile) ([]*mirror.Rule, []*mirror.VendorAlias, error) {
	rules := make([]*mirror.Rule, 0, len(file.Rules))
	for _, spec := range file.Rules {
		r := &mirror.Rule{
			ConnectionID: connID,
			Name:         spec.Name,
			Priority:     spec.Priority,
			Conditions:   mirror.RuleConditions{DescriptionContains: spec.DescriptionContains},
			Action: mirror.RuleAction{
				CategoryID:   spec.CategoryID,
				CategoryName: spec.Category,
				Tags:         spec.Tags,
			},
		}
		var err error
		if r.Conditions.AmountMin, err = parseAmount(spec.AmountMin); err != nil {
			return nil, nil, fmt.Errorf("rule %q: amount_min: %w", spec.Name, err)
		}
		if r.Conditions.AmountMax, err = parseAmount(spec.AmountMax); err != nil {
			return nil, nil, fmt.Errorf("rule %q: amount_max: %w", spec.Name, err)
		}
		rules = append(rules, r)
	}

	aliases := make([]*mirror.VendorAlias, 0, len(file.Aliases))
	for _, spec := range file.Aliases {
		aliases = append(aliases, &mirror.VendorAlias{
			ConnectionID: connID,
			Match:        spec.Match,
			VendorID:     spec.VendorID,
			VendorName:   spec.Vendor,
		})
	}
	return rules, aliases, nil
}

func parseAmount(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
