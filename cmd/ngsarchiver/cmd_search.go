package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/ngsarchiver/archive"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		name, path string
		ignoreCase bool
	)
	cmd := &cobra.Command{
		Use:   "search ARCHIVE...",
		Short: "Find archive members by name or path",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archives := make([]*archive.Archive, 0, len(args))
			for _, dir := range args {
				arc, err := archive.Open(dir)
				if err != nil {
					return err
				}
				archives = append(archives, arc)
			}

			pattern, mode := name, archive.MatchName
			if path != "" {
				pattern, mode = path, archive.MatchPath
			}
			a.logger.Debug("searching", "pattern", pattern, "archives", len(archives))
			found, err := archive.Search(archives, pattern,
				archive.SearchWithMode(mode), archive.SearchWithIgnoreCase(ignoreCase))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, m := range found {
				if len(archives) > 1 {
					fmt.Fprintf(w, "%s: %s\n", m.Archive, m.Path)
					continue
				}
				fmt.Fprintln(w, m.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "glob matched against member file names")
	cmd.Flags().StringVar(&path, "path", "", "glob matched against full member paths")
	cmd.Flags().BoolVarP(&ignoreCase, "ignore-case", "i", false, "match case-insensitively")
	cmd.MarkFlagsOneRequired("name", "path")
	cmd.MarkFlagsMutuallyExclusive("name", "path")
	return cmd
}
