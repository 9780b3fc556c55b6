package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/output"
	"github.com/Franck-BRT/BlackIA-sub003/internal/validation"
)

func newValidateCmd(ro *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		topK       int
	)

	cmd := &cobra.Command{
		Use:   "validate <queries.yaml>",
		Short: "Measure retrieval quality against a query set",
		Long: `Run every query of a YAML query set and check that the expected
attachments are retrieved.

The file has three lists: tier1 (must pass), tier2 (tracked) and
negative (must not fail internally). Each query has an id, the query
text, an optional mode and the expected attachment ids:

  tier1:
    - id: T1-Q1
      name: lease renewal
      query: when does the lease renew
      mode: text
      expected: [lease]

The command fails when a tier 1 query misses.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := validation.LoadQueries(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, ro, openOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res := validation.NewValidator(a.engine, topK).RunAll(ctx, queries)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printValidation(output.New(cmd.OutOrStdout(), ro.colorDisabled()), res)
			}

			if res.Failed() {
				s := res.Tiers[validation.Tier1]
				return raerrors.New(raerrors.ErrCodeInvalidInput,
					fmt.Sprintf("%d of %d tier 1 queries missed", s.Total-s.Passed, s.Total), nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().IntVar(&topK, "top-k", validation.DefaultTopK, "Result depth each query is judged on")
	return cmd
}

func printValidation(out *output.Writer, res *validation.Result) {
	out.Header("Retrieval validation")
	out.Newline()
	for _, r := range res.Results {
		label := fmt.Sprintf("%s %s", r.Spec.ID, r.Spec.Name)
		switch {
		case r.Passed && r.MatchedAt >= 0:
			out.Successf("%s (rank %d, %s)", label, r.MatchedAt+1, r.Mode)
		case r.Passed:
			out.Success(label)
		case r.Spec.Tier == validation.Tier1:
			out.Error(label)
		default:
			out.Warning(label)
		}
		if r.Error != "" && !r.Passed {
			out.Detail(r.Error)
		} else if !r.Passed {
			out.Detail(fmt.Sprintf("expected %s, got %s",
				strings.Join(r.Spec.Expected, ", "), orNone(r.TopResults)))
		}
	}
	out.Newline()
	for _, tier := range []validation.Tier{validation.Tier1, validation.Tier2, validation.Negative} {
		s, ok := res.Tiers[tier]
		if !ok {
			continue
		}
		if tier == validation.Negative {
			out.Infof("%s: %d/%d", tier, s.Passed, s.Total)
			continue
		}
		out.Infof("%s: %d/%d  MRR %.2f  recall@%d %.2f", tier, s.Passed, s.Total, s.MRR, res.TopK, s.Recall)
	}
}

func orNone(ids []string) string {
	if len(ids) == 0 {
		return "nothing"
	}
	return strings.Join(ids, ", ")
}
