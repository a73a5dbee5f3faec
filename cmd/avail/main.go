package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/counters"
)

func main() {
	if err := newCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand(w io.Writer) *cobra.Command {
	var (
		arch    string
		defs    string
		showAST bool
	)

	cmd := &cobra.Command{
		Use:          "gpuprof-avail [counter...]",
		Short:        "List the counters available per GPU architecture",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra [][]byte
			if defs != "" {
				data, err := os.ReadFile(defs)
				if err != nil {
					return err
				}
				extra = append(extra, data)
			}
			reg, err := counters.LoadRegistry(extra...)
			if err != nil {
				return err
			}

			archs := reg.Archs()
			if arch != "" {
				archs = []string{arch}
			}
			for _, a := range archs {
				if err := printArch(w, reg, a, args, showAST); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&arch, "arch", "", "only list counters of this architecture (e.g. gfx90a)")
	cmd.Flags().StringVar(&defs, "defs", "", "additional counter definitions file")
	cmd.Flags().BoolVar(&showAST, "ast", false, "print the expanded expression of derived counters")
	return cmd
}

func printArch(w io.Writer, reg *counters.Registry, arch string, names []string, showAST bool) error {
	header := color.New(color.FgCyan, color.Bold)
	derived := color.New(color.FgGreen)
	special := color.New(color.FgYellow)

	metrics := reg.ForArch(arch)
	if len(names) > 0 {
		metrics = metrics[:0:0]
		for _, n := range names {
			m, err := reg.ByName(arch, n)
			if err != nil {
				return err
			}
			metrics = append(metrics, m)
		}
	}
	if len(metrics) == 0 {
		return fmt.Errorf("%w: no counters for %s", counters.ErrUnknownMetric, arch)
	}

	header.Fprintf(w, "%s (%d counters)\n", arch, len(metrics))
	for _, m := range metrics {
		switch {
		case m.IsSpecial():
			special.Fprintf(w, "  %-24s", m.Name)
			fmt.Fprintf(w, " agent property %s\n", m.Special)
		case m.IsDerived():
			derived.Fprintf(w, "  %-24s", m.Name)
			fmt.Fprintf(w, " %s\n", m.Expression)
			if showAST {
				ast, err := reg.BuildAST(arch, m.Name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "  %-24s = %s\n", "", ast.Root())
			}
		default:
			fmt.Fprintf(w, "  %-24s %s[%d]\n", m.Name, m.Block, m.Event)
		}
		if m.Description != "" {
			fmt.Fprintf(w, "  %-24s %s\n", "", strings.TrimSpace(m.Description))
		}
	}
	fmt.Fprintln(w)
	return nil
}
