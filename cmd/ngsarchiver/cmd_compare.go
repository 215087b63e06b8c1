package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/ngsarchiver/archive"
)

func newCompareCmd(a *app) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "compare DIR1 DIR2",
		Short: "Compare the content of two directories",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			c, err := archive.Compare(cmd.Context(), args[0], args[1],
				archive.CompareWithWorkers(workers),
				archive.CompareWithLogger(a.logger))
			var verr *archive.VerifyError
			if err != nil && !errors.As(err, &verr) {
				return err
			}
			if err == nil {
				fmt.Fprintln(w, statusOK("directories match"))
				return nil
			}

			fmt.Fprintln(w, statusFailed("directories differ"))
			groups := []struct {
				title string
				paths []string
			}{
				{"only in " + args[0], c.Missing},
				{"only in " + args[1], c.Extra},
				{"type differs", c.Kind},
				{"symlink target differs", c.Target},
				{"content differs", c.Content},
			}
			for _, g := range groups {
				for _, p := range g.paths {
					fmt.Fprintf(w, "  %s %s\n", styles.Error.Render(g.title+":"), p)
				}
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "files checksummed in parallel (default all CPUs)")
	return cmd
}
