package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/ngsarchiver/archive"
)

func newUnpackCmd(a *app) *cobra.Command {
	var (
		copyPerms, noVerify bool
		outDir              string
	)
	cmd := &cobra.Command{
		Use:   "unpack ARCHIVE",
		Short: "Restore a compressed archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("copy-permissions") {
				copyPerms = a.cfg.Unpack.CopyPermissions
			}
			verify := a.cfg.Unpack.Verify
			if cmd.Flags().Changed("no-verify") {
				verify = !noVerify
			}
			if outDir == "" {
				outDir = "."
			}

			dst, err := archive.Unpack(cmd.Context(), args[0], outDir,
				archive.UnpackWithCopyPermissions(copyPerms),
				archive.UnpackWithVerify(verify),
				archive.UnpackWithLogger(a.logger),
				archive.UnpackWithProgress(a.progress()))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusOK("unpacked to "+dst))
			return nil
		},
	}
	cmd.Flags().BoolVar(&copyPerms, "copy-permissions", false, "restore recorded permissions")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip checking restored content")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "directory to unpack into (default current directory)")
	return cmd
}
