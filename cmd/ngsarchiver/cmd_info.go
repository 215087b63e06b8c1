package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/ngsarchiver/archive"
	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/internal/sizing"
	"github.com/meigma/ngsarchiver/manifest"
)

func newInfoCmd(a *app) *cobra.Command {
	var list, tsv bool
	cmd := &cobra.Command{
		Use:   "info DIR...",
		Short: "Describe run directories and archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			owners := platform.NewOwners()
			if tsv {
				fmt.Fprintln(w, "#"+archive.TSVHeader)
			}
			for _, dir := range args {
				info, err := archive.Inspect(cmd.Context(), dir,
					archive.InspectWithLogger(a.logger), archive.InspectWithOwners(owners))
				if err != nil {
					return err
				}
				switch {
				case tsv:
					fmt.Fprintln(w, info.TSV())
				case info.Archive != nil:
					if err := printArchiveInfo(w, info.Archive, list); err != nil {
						return err
					}
				default:
					printDirInfo(w, info, list)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list problem paths, or the members of an archive")
	cmd.Flags().BoolVar(&tsv, "tsv", false, "write one tab-separated line per directory")
	cmd.MarkFlagsMutuallyExclusive("list", "tsv")
	return cmd
}

func printDirInfo(w io.Writer, info *archive.Info, list bool) {
	st := info.Tree.Stats()
	fmt.Fprintln(w, heading(info.Tree.Root()))
	field(w, "Type", info.Classification.Variant)
	field(w, "Size", sizing.Format(st.TotalSize))
	field(w, "Files", st.Files)
	field(w, "Directories", st.Dirs)
	field(w, "Symlinks", st.Symlinks)
	field(w, "Hard links", st.HardLinks)
	if st.LargestFile != "" {
		field(w, "Largest file", fmt.Sprintf("%s (%s)", st.LargestFile, sizing.Format(st.LargestFileSize)))
	}
	field(w, "Compressed", fmt.Sprintf("%d files, %s (%.0f%%)",
		st.CompressedFiles, sizing.Format(st.CompressedSize), 100*info.CompressedFraction()))
	if len(info.Classification.Projects) > 0 {
		field(w, "Projects", strings.Join(info.Classification.Projects, ", "))
	}
	if len(info.Classification.Subdirs) > 0 {
		field(w, "Subarchives", strings.Join(info.Classification.Subdirs, ", "))
	}

	clean := true
	for _, l := range info.Listings() {
		if len(l.Paths) == 0 {
			continue
		}
		clean = false
		fmt.Fprintln(w, statusWarning(fmt.Sprintf("%s: %d", l.Title, len(l.Paths))))
		if list {
			for _, p := range l.Paths {
				fmt.Fprintf(w, "    %s\n", p)
			}
		}
	}
	if clean {
		fmt.Fprintln(w, statusOK("no problems found"))
	}
}

func printArchiveInfo(w io.Writer, a *archive.Archive, list bool) error {
	fmt.Fprintln(w, heading(a.Dir))
	field(w, "Name", a.Name())
	field(w, "Type", a.Type())
	if md := a.Metadata; md != nil {
		field(w, "Source", md.Source)
		field(w, "Source type", md.SourceType)
		field(w, "Source size", sizing.Format(md.SourceSize))
		field(w, "Created", fmt.Sprintf("%s by %s", md.CreationDate, md.User))
		field(w, "Archiver version", md.Version)
		if md.MultiVolume {
			field(w, "Volume size", sizing.Format(int64(md.VolumeSize)))
		}
		if md.CompressionLevel > 0 {
			field(w, "Compression level", md.CompressionLevel)
		}
		field(w, "Symlinks", yesNo(md.HadSymlinks))
		field(w, "Hard links", yesNo(md.HadHardLinks))
		field(w, "Excluded files", yesNo(md.HadExcludedFiles))
	} else {
		fmt.Fprintln(w, styles.Muted.Render("  legacy archive without metadata"))
	}

	if a.Type() == manifest.TypeCompressed {
		vols, err := a.Volumes()
		if err != nil {
			return err
		}
		field(w, "Volumes", strings.Join(vols, ", "))
	}
	if !list {
		return nil
	}
	members, err := a.Members()
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.Container == "" {
			fmt.Fprintf(w, "    %s\n", m.Path)
			continue
		}
		fmt.Fprintf(w, "    %s %s\n", m.Path, styles.Muted.Render("("+m.Container+")"))
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
