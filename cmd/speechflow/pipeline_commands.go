package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"speechflow/internal/api"
	"speechflow/internal/scheduler"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>...",
		Short: "Queue recordings, transcripts or folders for ingestion",
		Long: "Queue local files or folders for ingestion. Paths are resolved on this\n" +
			"machine and must be readable by the daemon.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := make([]string, 0, len(args))
			for _, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", arg, err)
				}
				paths = append(paths, abs)
			}
			return ctx.withClient(func(client *api.Client) error {
				accepted, err := client.Enqueue(cmd.Context(), paths)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.EnqueueResponse{Queued: accepted}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Queued %d path(s) for ingestion\n", accepted)
					return nil
				})
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pipelines and their stage states",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				entries, err := client.Entries(cmd.Context())
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.EntriesResponse{Entries: entries}, func() error {
					out := cmd.OutOrStdout()
					if len(entries) == 0 {
						fmt.Fprintln(out, "No pipelines")
						return nil
					}
					fmt.Fprintln(out, renderTable(tableSpec{
						Headers: []string{"ID", "State", "Files", "Language", "Stages", "Source"},
						Rows:    pipelineRows(entries, shouldColorize(out)),
						Aligns:  []columnAlignment{alignRight},
					}))
					return nil
				})
			})
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one entry with its stages, results and diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "entry id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				entry, err := client.Entry(cmd.Context(), id)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.EntryResponse{Entry: *entry}, func() error {
					renderEntry(cmd, *entry)
					return nil
				})
			})
		},
	}
}

func renderEntry(cmd *cobra.Command, entry scheduler.EntryView) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	pipelines := entry.Entries
	if entry.Pipeline != nil {
		pipelines = []scheduler.PipelineView{*entry.Pipeline}
	} else {
		fmt.Fprintf(out, "Folder %d: %s\n", entry.ID, entry.Path)
	}
	for _, p := range pipelines {
		for _, line := range renderSectionHeader(fmt.Sprintf("Pipeline %d (%s)", p.ID, pipelineFiles(p)), colorize) {
			fmt.Fprintln(out, line)
		}
		fmt.Fprintln(out, renderStatusLine("State", stateKind(p.State), p.State, colorize))
		fmt.Fprintln(out, renderStatusLine("Language", statusInfo, p.Language+" via "+p.Provider, colorize))
		fmt.Fprintln(out, renderTable(tableSpec{
			Headers:  []string{"Stage ID", "Stage", "State", "Enabled", "Duration", "Results"},
			Rows:     stageRows(p.Stages, colorize),
			Aligns:   []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
			MaxWidth: 60,
		}))
		for _, st := range p.Stages {
			for _, d := range st.Diagnostics {
				kind := statusWarn
				if strings.EqualFold(string(d.Severity), "ERROR") {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(st.Name, kind, d.Message, colorize))
			}
		}
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a pipeline or folder that is not running",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "entry id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				if err := client.Remove(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed entry %d\n", id)
				return nil
			})
		},
	}
}

func newConfirmCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm",
		Short: "Move queued pipelines into the run list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				confirmed, err := client.Confirm(cmd.Context())
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.ConfirmResponse{Confirmed: confirmed}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Confirmed %d pipeline(s)\n", confirmed)
					return nil
				})
			})
		},
	}
}
