package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ragkb/ragkb/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter()
			if p.Emit(version.GetInfo()) {
				return nil
			}
			if short {
				p.Line("%s", version.Short())
				return nil
			}
			p.Line("%s", version.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")

	return cmd
}
