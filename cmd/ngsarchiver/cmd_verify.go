package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/ngsarchiver/archive"
)

var errVerifyFailed = errors.New("verification failed")

func newVerifyCmd(a *app) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "verify ARCHIVE...",
		Short: "Recompute and check archive checksums",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if !cmd.Flags().Changed("workers") {
				workers = a.cfg.Archive.Workers
			}
			failed := 0
			for _, dir := range args {
				diff, err := archive.Verify(cmd.Context(), dir,
					archive.VerifyWithWorkers(workers),
					archive.VerifyWithLogger(a.logger),
					archive.VerifyWithProgress(a.progress()))
				var verr *archive.VerifyError
				switch {
				case errors.As(err, &verr):
					failed++
					fmt.Fprintln(w, statusFailed(dir+": FAILED"))
					printDiff(w, diff)
				case err != nil:
					return err
				default:
					fmt.Fprintln(w, statusOK(dir+": OK"))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d archives", errVerifyFailed, failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "volumes checked in parallel (default all CPUs)")
	return cmd
}
