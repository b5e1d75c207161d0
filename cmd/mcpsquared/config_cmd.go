package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newConfigCmd prints the fully discovered, migrated, and defaulted
// config object the broker would actually run with, following
// alexandrem-coral's `config view`/`config validate` split but collapsed
// to a single subcommand since mcp-squared has no multi-colony context
// to switch between.
func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigView(flags)
		},
	}
	cmd.AddCommand(newConfigValidateCmd(flags))
	return cmd
}

func runConfigView(flags *globalFlags) error {
	path, err := resolveConfigPath(flags)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	fmt.Printf("# loaded from %s\n", path)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func newConfigValidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "load and validate the config without starting the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath(flags)
			if err != nil {
				return err
			}
			if _, err := loadConfig(flags); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	}
}
