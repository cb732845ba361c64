package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/configs"
	"github.com/Aman-CERP/indexsync/internal/config"
	"github.com/Aman-CERP/indexsync/internal/output"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	var (
		force bool
		user  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template",
		Long: `Write a commented .indexsync.yaml to the project directory, or with
--user the machine-wide config to ~/.config/indexsync/config.yaml.

Edit the source path and index definitions, then run
'indexsync doctor' and 'indexsync import <index> --all'.`,
		Example: `  # Create .indexsync.yaml in the current directory
  indexsync init

  # Overwrite an existing file
  indexsync init --force

  # Create the user config
  indexsync init --user`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, template := filepath.Join(root.dir, ".indexsync.yaml"), configs.ProjectConfigTemplate
			if user {
				path, template = config.GetUserConfigPath(), configs.UserConfigTemplate
			}
			return runInit(cmd, path, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user configuration instead of the project one")
	return cmd
}

func runInit(cmd *cobra.Command, path, template string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if _, err := os.Stat(path); err == nil && !force {
		out.Warningf("%s already exists", path)
		out.Status("💡", "Use --force to overwrite it")
		return nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(template), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	// The template must load on its own.
	if _, err := config.LoadFile(path); err != nil {
		return err
	}
	out.Successf("Wrote %s", path)
	return nil
}
