package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/MarcoPoloResearchLab/compass/internal/digest"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newDigestCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "digest",
		Short: "Partner digest commands",
	}
	command.AddCommand(
		newDigestPairCommand(digest.ModePreview, "preview", "Compose a digest without sending it"),
		newDigestPairCommand(digest.ModeSend, "send", "Compose and send a digest to one partner"),
		newDigestRunCommand(),
	)
	return command
}

func newDigestPairCommand(mode digest.Mode, use, short string) *cobra.Command {
	var (
		userID    string
		partnerID string
		fields    string
		asJSON    bool
	)

	command := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := wellness.NewUserID(userID)
			if err != nil {
				return err
			}
			partner, err := wellness.NewUserID(partnerID)
			if err != nil {
				return err
			}
			appConfig, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			app, err := newApplication(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer app.Close() //nolint:errcheck

			payload, err := app.composer.Compose(cmd.Context(), digest.Request{
				UserID:        user,
				PartnerID:     partner,
				AllowedFields: parseFields(fields),
				Mode:          mode,
				ActorID:       string(user),
			})
			if err != nil {
				return fmt.Errorf("composer.Compose() > %w", err)
			}

			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(payload)
			}
			printPayload(cmd.OutOrStdout(), payload)
			return nil
		},
	}

	command.Flags().StringVar(&userID, "user", "", "User whose data is summarized")
	command.Flags().StringVar(&partnerID, "partner", "", "Partner receiving the digest")
	command.Flags().StringVar(&fields, "fields", "", "Comma-separated field tags to narrow the share (default the share's fields)")
	command.Flags().BoolVar(&asJSON, "json", false, "Print the composed payload as JSON")
	_ = command.MarkFlagRequired("user")
	_ = command.MarkFlagRequired("partner")
	return command
}

func newDigestRunCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "run",
		Short: "Send digests for every consenting pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			app, err := newApplication(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer app.Close() //nolint:errcheck

			results, err := app.dispatcher.RunForAllConsentingPairs(cmd.Context())
			if err != nil {
				return fmt.Errorf("dispatcher.RunForAllConsentingPairs() > %w", err)
			}
			failed := printPairResults(cmd.OutOrStdout(), results)
			if failed > 0 {
				return fmt.Errorf("%d of %d digest(s) failed", failed, len(results))
			}
			return nil
		},
	}
	return command
}

func printPayload(out io.Writer, payload digest.Payload) {
	fmt.Fprintln(out, color.New(color.Bold).Sprint(payload.Subject))
	fmt.Fprintf(out, "fields shared: %v\n", payload.FieldsShared)
	if payload.Delivery != nil {
		status := color.New(color.FgGreen).Sprint(payload.Delivery.Status)
		if payload.Delivery.Status == digest.DeliverySkipped {
			status = color.New(color.FgYellow).Sprint(payload.Delivery.Status)
		}
		fmt.Fprintf(out, "delivery: %s %s\n", status, payload.Delivery.RecordID)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, payload.Text)
}

func printPairResults(out io.Writer, results []digest.PairResult) int {
	failed := 0
	for _, result := range results {
		switch {
		case !result.OK:
			failed++
			fmt.Fprintln(out, color.RedString("FAIL  %s -> %s  %s", result.UserID, result.PartnerID, result.ErrorCode))
		case result.Status == digest.DeliverySkipped:
			fmt.Fprintln(out, color.YellowString("SKIP  %s -> %s", result.UserID, result.PartnerID))
		default:
			fmt.Fprintln(out, color.GreenString("SENT  %s -> %s  %s", result.UserID, result.PartnerID, result.RecordID))
		}
	}
	fmt.Fprintf(out, "%d pair(s), %d failed\n", len(results), failed)
	return failed
}
