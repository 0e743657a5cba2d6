package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/courseware-hq/cmigrate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Get and set project configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.GetString(args[0]))
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in config.yaml",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetYamlConfig(args[0], args[1]); err != nil {
			return err
		}
		// Reload so the new value is visible to any chained invocation.
		return config.Initialize()
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print all resolved configuration values",
	Run: func(cmd *cobra.Command, args []string) {
		settings := config.AllSettings()
		if jsonOutput {
			outputJSON(settings)
			return
		}
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "token" {
				fmt.Printf("%s: <redacted>\n", k)
				continue
			}
			fmt.Printf("%s: %v\n", k, settings[k])
		}
	},
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
}
