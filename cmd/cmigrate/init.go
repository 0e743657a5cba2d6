package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/courseware-hq/cmigrate/internal/config"
)

const configTemplate = `# cmigrate project configuration.
# Every key can be overridden by a CMIGRATE_* environment variable or a flag.

# base-url: https://school.instructure.com
# target-course: 456
# export-dir: ./export

# Keep the token out of this file; set CMIGRATE_TOKEN instead.

# on-duplicate: overwrite
# rewrite-concurrency: 4
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .cmigrate project directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		dir := filepath.Join(cwd, config.ProjectDirName)
		if _, err := os.Stat(dir); err == nil {
			fmt.Printf("%s already exists\n", dir)
			return nil
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		configPath := filepath.Join(dir, "config.yaml")
		if err := os.WriteFile(configPath, []byte(configTemplate), 0600); err != nil {
			return fmt.Errorf("failed to write config.yaml: %w", err)
		}
		fmt.Printf("Initialized %s\n", dir)
		return nil
	},
}
