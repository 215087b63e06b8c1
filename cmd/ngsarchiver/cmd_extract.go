package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/ngsarchiver/archive"
)

func newExtractCmd(a *app) *cobra.Command {
	var (
		name, path, outDir   string
		keepPath, ignoreCase bool
	)
	cmd := &cobra.Command{
		Use:   "extract ARCHIVE",
		Short: "Copy matching members out of an archive",
		Long: "Copy archive members whose name or path matches a glob into a directory.\n" +
			"Existing files are never overwritten; they are reported as skipped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arc, err := archive.Open(args[0])
			if err != nil {
				return err
			}
			pattern := name
			if path != "" {
				pattern = path
			}
			if outDir == "" {
				outDir = "."
			}

			res, err := arc.Extract(cmd.Context(), pattern, outDir,
				archive.ExtractWithKeepPath(keepPath),
				archive.ExtractWithIgnoreCase(ignoreCase),
				archive.ExtractWithLogger(a.logger))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, p := range res.Extracted {
				fmt.Fprintln(w, statusOK(p))
			}
			for _, p := range res.Skipped {
				fmt.Fprintln(w, statusWarning(p+" exists, skipped"))
			}
			if len(res.Extracted)+len(res.Skipped) == 0 {
				fmt.Fprintln(w, statusWarning("no members match "+pattern))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "glob matched against member file names")
	cmd.Flags().StringVar(&path, "path", "", "glob matched against full member paths")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "directory to extract into (default current directory)")
	cmd.Flags().BoolVarP(&keepPath, "keep-path", "k", false, "recreate member directories instead of flattening")
	cmd.Flags().BoolVarP(&ignoreCase, "ignore-case", "i", false, "match case-insensitively")
	cmd.MarkFlagsOneRequired("name", "path")
	cmd.MarkFlagsMutuallyExclusive("name", "path")
	return cmd
}
