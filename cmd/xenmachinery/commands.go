package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
	"github.com/alexandremahdhaoui/xenmachinery/pkg/xenserver"
)

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that every configured machine and snapshot exists on the pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withBackend(cmd.Context(), func(ctx context.Context, _ *xenserver.Backend, registry machinery.Registry) error {
				machines, err := registry.Machines(ctx)
				if err != nil {
					return err
				}

				_, _ = fmt.Fprintf(a.out, "✅ %d machine(s) verified\n", len(machines))
				return nil
			})
		},
	}
}

func newStartCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start <label>",
		Short: "Revert a machine to its snapshot and power it on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd.Context(), func(ctx context.Context, b *xenserver.Backend, _ machinery.Registry) error {
				if err := b.Start(ctx, args[0]); err != nil {
					return err
				}

				_, _ = fmt.Fprintf(a.out, "✅ started %s\n", args[0])
				return nil
			})
		},
	}
}

func newStopCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <label>",
		Short: "Force a machine off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd.Context(), func(ctx context.Context, b *xenserver.Backend, _ machinery.Registry) error {
				if err := b.Stop(ctx, args[0]); err != nil {
					return err
				}

				_, _ = fmt.Fprintf(a.out, "✅ stopped %s\n", args[0])
				return nil
			})
		},
	}
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [label]",
		Short: "Print the power state of one or every configured machine",
		Long: `Print the power state of one or every configured machine, for example:
  xenmachinery status
  xenmachinery status --config /etc/xenmachinery.yaml 0c9a1d52-5b1e-4a3c-9d6e-2f0e8b7a4c11
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd.Context(), func(ctx context.Context, b *xenserver.Backend, registry machinery.Registry) error {
				var machines []machinery.Machine
				if len(args) == 1 {
					m, err := registry.LookupByLabel(ctx, args[0])
					if err != nil {
						return err
					}
					machines = append(machines, m)
				} else {
					var err error
					if machines, err = registry.Machines(ctx); err != nil {
						return err
					}
				}

				t := table.NewWriter()
				t.SetOutputMirror(a.out)
				t.SetTitle("Machines")
				t.Style().Title = table.TitleOptions{Align: text.AlignCenter}
				t.AppendHeader(table.Row{"Label", "Name", "Snapshot", "PowerState"})

				for _, m := range machines {
					state, err := b.Status(ctx, m.Label)
					if err != nil {
						return err
					}
					t.AppendRow(table.Row{m.Label, m.Name, m.Snapshot, state})
				}

				t.Render()
				return nil
			})
		},
	}
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(a.out, "%s version %s (%s) %s\n", Name, Version, CommitSHA, BuildTimestamp)
		},
	}
}
