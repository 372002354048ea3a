package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"speechflow/internal/api"
	"speechflow/internal/scheduler"
)

func newStageCommand(ctx *commandContext) *cobra.Command {
	stageCmd := &cobra.Command{
		Use:   "stage",
		Short: "Enable or disable stages of the template",
	}

	toggle := func(use string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <position>",
			Short: strings.ToUpper(use[:1]) + use[1:] + " the stage at a template position",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				position, err := strconv.Atoi(strings.TrimSpace(args[0]))
				if err != nil || position < 0 {
					return fmt.Errorf("invalid stage position %q", args[0])
				}
				return ctx.withClient(func(client *api.Client) error {
					forced, err := client.ToggleStage(cmd.Context(), position, enabled)
					if err != nil {
						return err
					}
					return ctx.emit(cmd, api.StageToggleResponse{Forced: forced}, func() error {
						out := cmd.OutOrStdout()
						fmt.Fprintf(out, "Stage %d %sd\n", position, use)
						if len(forced) > 0 {
							fmt.Fprintf(out, "Also enabled required stages: %s\n", joinInts(forced))
						}
						return nil
					})
				})
			},
		}
	}

	stageCmd.AddCommand(toggle("enable", true))
	stageCmd.AddCommand(toggle("disable", false))
	return stageCmd
}

func newCompleteCommand(ctx *commandContext) *cobra.Command {
	var completion scheduler.Completion
	var contentFile string

	cmd := &cobra.Command{
		Use:   "complete <stage-id>",
		Short: "Finish an interactive stage with the tool's result",
		Long: "Finish an interactive stage. --url records the result produced by the\n" +
			"external editor; without it the stage finishes with no new result.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "stage id")
			if err != nil {
				return err
			}
			if contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return fmt.Errorf("read content: %w", err)
				}
				completion.Content = string(data)
			}
			return ctx.withClient(func(client *api.Client) error {
				entry, err := client.Complete(cmd.Context(), id, completion)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.EntryResponse{Entry: *entry}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Stage %d completed\n", id)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&completion.URL, "url", "", "URL of the result produced in the tool")
	cmd.Flags().StringVar(&completion.Name, "name", "", "Result file name (defaults to the pipeline's file)")
	cmd.Flags().StringVar(&completion.Message, "message", "", "Optional note recorded with the completion")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "Read the result content from this file")
	return cmd
}

func newToolURLCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tool-url <stage-id>",
		Short: "Print the editor URL for an interactive stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "stage id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				url, err := client.ToolURL(cmd.Context(), id)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.ToolURLResponse{URL: url}, func() error {
					fmt.Fprintln(cmd.OutOrStdout(), url)
					return nil
				})
			})
		},
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
