// File: cmd/validate.go
package cmd

import (
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	opts := &runOptions{}
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Checks instruction and source files without launching a browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := loadProgram(opts)
			if err != nil {
				return err
			}
			cmd.Printf("ok: %d top-level instructions, %d data sources", len(prog.instructions), len(prog.decls))
			if prog.iterator != nil {
				cmd.Printf(", %s iterator over %q", prog.iterator.IteratorType(), prog.iterator.Source())
			}
			cmd.Println()
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&opts.instructions, "instructions", "i", "", "Path to the instruction tree (JSON)")
	validateCmd.Flags().StringVarP(&opts.sources, "sources", "s", "", "Path to the data source declarations (JSON)")
	validateCmd.Flags().StringVar(&opts.iterator, "iterator", "", "Path to an iterator (JSON)")
	_ = validateCmd.MarkFlagRequired("instructions")
	return validateCmd
}
