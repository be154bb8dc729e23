package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/support-service/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenSupporterID int64
	tokenName        string
	tokenTTL         time.Duration
)

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Issue a supporter token signed with SUPPORTER_JWT_SECRET (for local testing)",
	RunE:  runIssueToken,
}

func init() {
	issueTokenCmd.Flags().Int64Var(&tokenSupporterID, "supporter-id", 0, "supporter id (required)")
	issueTokenCmd.Flags().StringVar(&tokenName, "name", "", "supporter display name")
	issueTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	rootCmd.AddCommand(issueTokenCmd)
}

func runIssueToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	v := auth.NewVerifier(cfg.SupporterJWTSecret)
	if !v.Enabled() {
		return errors.New("issue-token: SUPPORTER_JWT_SECRET is not set")
	}
	if tokenSupporterID <= 0 {
		return errors.New("issue-token: --supporter-id is required")
	}
	token, err := v.Issue(tokenSupporterID, tokenName, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
