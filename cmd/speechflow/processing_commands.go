package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"speechflow/internal/api"
)

func newProcessingCommands(ctx *commandContext) []*cobra.Command {
	toggle := func(use, short string, on bool) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withClient(func(client *api.Client) error {
					resp, err := client.SetProcessing(cmd.Context(), on)
					if err != nil {
						return err
					}
					return ctx.emit(cmd, resp, func() error {
						fmt.Fprintf(cmd.OutOrStdout(), "Scheduler %s\n", resp.Scheduler.OverallState)
						return nil
					})
				})
			},
		}
	}

	return []*cobra.Command{
		toggle("start", "Start processing pending pipelines", true),
		toggle("stop", "Stop picking new stages (running calls finish)", false),
		newStatusCommand(ctx),
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduler status and the stage template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					out := cmd.OutOrStdout()
					colorize := shouldColorize(out)
					for _, line := range renderSectionHeader("Daemon", colorize) {
						fmt.Fprintln(out, line)
					}
					fmt.Fprintln(out, renderStatusLine("PID", statusOK, fmt.Sprintf("%d (%s)", resp.Daemon.PID, resp.Daemon.Version), colorize))
					store := resp.Daemon.StoreBackend
					if resp.Daemon.StorePath != "" {
						store += " " + resp.Daemon.StorePath
					}
					fmt.Fprintln(out, renderStatusLine("Store", statusInfo, store, colorize))
					if resp.Daemon.WatchDir != "" {
						fmt.Fprintln(out, renderStatusLine("Watching", statusInfo, resp.Daemon.WatchDir, colorize))
					}
					fmt.Fprintln(out)
					for _, line := range renderStatus(resp.Scheduler, colorize) {
						fmt.Fprintln(out, line)
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderTable(tableSpec{
						Title:   "Stage template",
						Headers: []string{"Pos", "Stage", "Title", "Enabled", "Interactive"},
						Rows:    templateRows(resp.Scheduler.Template),
						Aligns:  []columnAlignment{alignRight},
					}))
					return nil
				})
			})
		},
	}
}
