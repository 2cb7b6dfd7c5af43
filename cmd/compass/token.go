package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "token",
		Short: "Bearer token commands",
	}
	command.AddCommand(newTokenIssueCommand())
	return command
}

func newTokenIssueCommand() *cobra.Command {
	var userID string

	command := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			app := &application{config: appConfig}
			issuer, err := app.tokenIssuer()
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueToken(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}

	command.Flags().StringVar(&userID, "user", "", "User identifier used as the token subject")
	_ = command.MarkFlagRequired("user")
	return command
}
