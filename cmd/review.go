package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/portal-resolver/internal/config"
	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/review"
)

var (
	reviewPage      int
	reviewPerPage   int
	reviewOverrides review.Overrides
	reviewVendor    string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the human review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records awaiting review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeReview)
		if err != nil {
			return err
		}
		defer env.Close()

		page, err := env.Review.List(ctx, reviewPage, reviewPerPage)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), page)
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <record-id>",
	Short: "Verify a record, optionally correcting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReview(cmd, args[0], true)
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <record-id>",
	Short: "Invalidate a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReview(cmd, args[0], false)
	},
}

func runReview(cmd *cobra.Command, id string, approve bool) error {
	ctx := cmd.Context()

	env, err := initEnv(ctx, config.ModeReview)
	if err != nil {
		return err
	}
	defer env.Close()

	o := reviewOverrides
	o.Vendor = model.Vendor(reviewVendor)

	var sum *review.Summary
	if approve {
		sum, err = env.Review.Approve(ctx, id, o)
	} else {
		sum, err = env.Review.Reject(ctx, id, o)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), sum)
}

func init() {
	reviewListCmd.Flags().IntVar(&reviewPage, "page", 1, "page number")
	reviewListCmd.Flags().IntVar(&reviewPerPage, "per-page", review.DefaultPerPage, "records per page")

	for _, c := range []*cobra.Command{reviewApproveCmd, reviewRejectCmd} {
		c.Flags().StringVar(&reviewOverrides.PortalURL, "portal-url", "", "corrected portal URL")
		c.Flags().StringVar(&reviewOverrides.ManualInfoURL, "manual-info-url", "", "corrected manual-submission info URL")
		c.Flags().StringVar(&reviewVendor, "vendor", "", "corrected vendor")
		c.Flags().StringVar(&reviewOverrides.Notes, "notes", "", "reviewer notes")
	}

	reviewCmd.AddCommand(reviewListCmd, reviewApproveCmd, reviewRejectCmd)
	rootCmd.AddCommand(reviewCmd)
}
