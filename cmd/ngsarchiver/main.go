// Command ngsarchiver archives, verifies and restores NGS run directories.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/ngsarchiver/archive"
	"github.com/meigma/ngsarchiver/internal/config"
)

var errNoCommand = errors.New("no command given")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, statusFailed(err.Error()))
		os.Exit(1)
	}
}

// app holds the state shared by every subcommand once the root command
// has loaded the configuration.
type app struct {
	configPath string
	verbose    bool

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default(), logger: slog.New(slog.DiscardHandler)}

	root := &cobra.Command{
		Use:           "ngsarchiver",
		Short:         "Archive and restore NGS sequencing run directories",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return errNoCommand
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		"config file (default $"+config.EnvPath+" or ngsarchiver/config.toml in the user config directory)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug messages")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInfoCmd(a))
	root.AddCommand(newArchiveCmd(a))
	root.AddCommand(newVerifyCmd(a))
	root.AddCommand(newUnpackCmd(a))
	root.AddCommand(newCompareCmd(a))
	root.AddCommand(newSearchCmd(a))
	root.AddCommand(newExtractCmd(a))
	root.AddCommand(newCopyCmd(a))
	return root
}

// setup loads the configuration and builds the stderr logger. An explicit
// --config must exist; the default locations are optional.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Path(a.configPath), a.configPath != "")
	if err != nil {
		return err
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	if a.verbose {
		level = slog.LevelDebug
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	a.logger.Debug("configuration loaded", "path", config.Path(a.configPath))
	return nil
}

// outDir returns the flag value, falling back to the configured default
// and then the working directory.
func (a *app) outDir(flag string) string {
	switch {
	case flag != "":
		return flag
	case a.cfg.Archive.OutDir != "":
		return a.cfg.Archive.OutDir
	default:
		return "."
	}
}

// progress logs operation progress at debug level.
func (a *app) progress() archive.ProgressFunc {
	return func(ev archive.ProgressEvent) {
		a.logger.Debug("progress",
			"stage", ev.Stage.String(),
			"path", ev.Path,
			"files", fmt.Sprintf("%d/%d", ev.FilesDone, ev.FilesTotal),
			"bytes", fmt.Sprintf("%s/%s", humanize.IBytes(ev.BytesDone), humanize.IBytes(ev.BytesTotal)))
	}
}
