package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"speechflow/internal/api"
	"speechflow/internal/fileutil"
	"speechflow/internal/ingest"
)

func newSplitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "split <first|second|both>",
		Short:     "Answer the channel split prompt for stereo recordings",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"first", "second", "both"},
		RunE: func(cmd *cobra.Command, args []string) error {
			choice, err := ingest.ParseSplitChoice(args[0])
			if err != nil {
				return err
			}
			switch choice {
			case ingest.SplitFirst, ingest.SplitSecond, ingest.SplitBoth:
			default:
				return fmt.Errorf("split answer must be first, second or both")
			}
			return ctx.withClient(func(client *api.Client) error {
				removed, err := client.Split(cmd.Context(), string(choice))
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.SplitResponse{Removed: removed}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Split set to %s (%d channel pipeline(s) dropped)\n",
						strings.ToLower(string(choice)), removed)
					return nil
				})
			})
		},
	}
}

func newLanguageCommand(ctx *commandContext) *cobra.Command {
	var asr string
	cmd := &cobra.Command{
		Use:   "language <code>",
		Short: "Set the default language (and optionally ASR provider) for new pipelines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.SetLanguage(cmd.Context(), strings.TrimSpace(args[0]), strings.TrimSpace(asr))
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Language set to %s via %s\n",
						resp.Scheduler.Language, resp.Scheduler.ASR)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&asr, "asr", "", "ASR provider for the language")
	return cmd
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Download the protocol report of the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				path, data, err := client.Report(cmd.Context())
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				if err := fileutil.WriteFileAtomic(output, data, 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s (daemon copy: %s)\n", output, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to this file instead of stdout")
	return cmd
}
