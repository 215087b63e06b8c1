package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/ngsarchiver/archive"
)

func newCopyCmd(a *app) *cobra.Command {
	var (
		replaceLinks, transformBroken, followDirLinks bool
		force, check                                  bool
		outDir                                        string
	)
	cmd := &cobra.Command{
		Use:   "copy DIR",
		Short: "Make a verified uncompressed copy of a run directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			flags := cmd.Flags()
			if !flags.Changed("replace-symlinks") {
				replaceLinks = a.cfg.Copy.ReplaceSymlinks
			}
			if !flags.Changed("transform-broken-symlinks") {
				transformBroken = a.cfg.Copy.TransformBrokenSymlinks
			}
			if !flags.Changed("follow-dirlinks") {
				followDirLinks = a.cfg.Copy.FollowDirLinks
			}

			opts := []archive.CopyOption{
				archive.CopyWithReplaceSymlinks(replaceLinks),
				archive.CopyWithTransformBrokenSymlinks(transformBroken),
				archive.CopyWithFollowDirLinks(followDirLinks),
				archive.CopyWithForce(force),
				archive.CopyWithWorkers(a.cfg.Archive.Workers),
				archive.CopyWithLogger(a.logger),
				archive.CopyWithProgress(a.progress()),
			}
			pc, err := archive.PrecheckCopy(cmd.Context(), args[0], a.outDir(outDir), opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, heading(fmt.Sprintf("%s (%s)", pc.Tree.Root(), pc.Classification.Variant)))
			printReport(w, pc.Report, force)
			if check {
				return pc.Report.Err(force)
			}

			arc, err := archive.Copy(cmd.Context(), args[0], a.outDir(outDir), opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, statusOK("copied to "+arc.Dir))
			return nil
		},
	}
	cmd.Flags().BoolVar(&replaceLinks, "replace-symlinks", false, "copy symlink targets instead of the links")
	cmd.Flags().BoolVar(&transformBroken, "transform-broken-symlinks", false,
		"replace broken symlinks with files holding the target")
	cmd.Flags().BoolVar(&followDirLinks, "follow-dirlinks", false, "copy the content of symlinked directories")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "copy despite soft precheck problems")
	cmd.Flags().BoolVarP(&check, "check", "c", false, "run the prechecks only")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "directory to create the copy in")
	return cmd
}
