package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/ngsarchiver/archive"
	"github.com/meigma/ngsarchiver/internal/sizing"
)

func newArchiveCmd(a *app) *cobra.Command {
	var (
		force, check, strict bool
		size, group, outDir  string
		level, workers       int
	)
	cmd := &cobra.Command{
		Use:   "archive DIR",
		Short: "Create a compressed archive of a run directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if !cmd.Flags().Changed("size") {
				size = a.cfg.Archive.VolumeSize
			}
			volumeSize, err := sizing.Parse(size)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("compress-level") {
				level = a.cfg.Archive.CompressionLevel
			}
			if !cmd.Flags().Changed("workers") {
				workers = a.cfg.Archive.Workers
			}

			opts := []archive.CreateOption{
				archive.CreateWithVolumeSize(volumeSize),
				archive.CreateWithCompressionLevel(level),
				archive.CreateWithWorkers(workers),
				archive.CreateWithForce(force),
				archive.CreateWithGroup(group),
				archive.CreateWithLogger(a.logger),
				archive.CreateWithProgress(a.progress()),
			}
			if strict {
				opts = append(opts, archive.CreateWithChangeDetection(archive.ChangeDetectionStrict))
			}

			pc, err := archive.PrecheckArchive(cmd.Context(), args[0], a.outDir(outDir), opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, heading(fmt.Sprintf("%s (%s)", pc.Tree.Root(), pc.Classification.Variant)))
			printReport(w, pc.Report, force)
			if check {
				return pc.Report.Err(force)
			}

			arc, err := archive.Create(cmd.Context(), args[0], a.outDir(outDir), opts...)
			if err != nil {
				return err
			}
			vols, err := arc.Volumes()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, statusOK(fmt.Sprintf("created %s (%d volumes)", arc.Dir, len(vols))))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "archive despite soft precheck problems")
	cmd.Flags().BoolVarP(&check, "check", "c", false, "run the prechecks only")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail if a file changes while it is archived")
	cmd.Flags().StringVarP(&size, "size", "s", "", "maximum volume size, e.g. 250M or 1G (default no limit)")
	cmd.Flags().StringVarP(&group, "group", "g", "", "group to own the archive files")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "directory to create the archive in")
	cmd.Flags().IntVar(&level, "compress-level", 6, "gzip compression level, 1-9")
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "subarchives written in parallel (default all CPUs)")
	return cmd
}
