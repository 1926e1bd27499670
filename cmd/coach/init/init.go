// Package initcmder provides the init command for initializing a local .coach
// directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/coach/pkg/cliui"
	"github.com/papercomputeco/coach/pkg/config"
)

const (
	dirName = ".coach"
)

const initLongDesc string = `Initialize a new .coach/ directory in the current working directory.

Creates a local .coach/ directory that takes precedence over ~/.coach/ for
the chat session, configuration, and local storage. A config.toml is written
from the selected preset unless one already exists.

Presets:
  coach     Chat through a coach server (default)
  ollama    Chat directly against a local Ollama server

Examples:
  coach init
  coach init --preset ollama`

const initShortDesc string = "Initialize a local .coach/ directory"

type initCommander struct {
	preset string
	out    io.Writer
}

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.out = cmd.OutOrStdout()
			return cmder.run()
		},
	}

	cmd.Flags().StringVar(&cmder.preset, "preset", "", "Configuration preset (coach, ollama)")

	return cmd
}

func (c *initCommander) run() error {
	preset := c.preset
	if preset == "" {
		preset = config.ProviderCoach
	}
	cfg, err := config.PresetConfig(preset)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}
	dir := filepath.Join(cwd, dirName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .coach directory: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	_, err = os.Stat(cfger.GetTarget())
	switch {
	case err == nil:
		fmt.Fprintf(c.out, "  %s Already initialized: %s\n", cliui.SuccessMark, dir)
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("checking config: %w", err)
	}

	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "  %s Initialized %s\n  %s\n",
		cliui.SuccessMark,
		dir,
		cliui.KeyValue("preset", preset),
	)
	return nil
}
