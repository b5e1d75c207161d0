package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aditzel/mcp-squared/internal/upstream"
)

// newTestCmd dials one or every configured upstream and reports its
// reachability, without starting a daemon or session server. Grounded on
// alexandrem-coral's internal/cli/agent/connect.go one-shot
// connectivity-check pattern.
func newTestCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "test [upstream]",
		Short: "dial one or all configured upstreams and report reachability",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			}
			return runTest(cmd.Context(), flags, key)
		},
	}
}

func runTest(ctx context.Context, flags *globalFlags, key string) error {
	logger := newLogger(flags)
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	registry := upstream.NewRegistry(logger, os.LookupEnv)
	registry.Configure(cfg)

	targets := registry.All()
	if key != "" {
		c, ok := registry.Get(key)
		if !ok {
			return fmt.Errorf("no upstream configured with key %q", key)
		}
		targets = []*upstream.Cataloger{c}
	}

	failed := 0
	for _, c := range targets {
		if err := c.Connect(ctx, os.LookupEnv); err != nil {
			fmt.Printf("%-20s FAIL  %v\n", c.Key(), err)
			failed++
			continue
		}
		if err := c.Ping(ctx); err != nil {
			fmt.Printf("%-20s FAIL  %v\n", c.Key(), err)
			failed++
			c.Disconnect()
			continue
		}
		if err := c.Refresh(ctx); err != nil {
			fmt.Printf("%-20s FAIL  %v\n", c.Key(), err)
			failed++
			c.Disconnect()
			continue
		}
		fmt.Printf("%-20s OK    %d tool(s)\n", c.Key(), len(c.CachedTools()))
		c.Disconnect()
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d upstream(s) failed", failed, len(targets))
	}
	return nil
}
