package main

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newMonitorCmd is a thin client for the read-only Monitor Service (spec
// section 4.9): it resolves a running instance, dials its monitor
// socket, sends one command line, and prints the single-line JSON reply
// to stdout. Grounded on alexandrem-coral's internal/cli/status provider
// pattern of dialing a running agent's control socket rather than
// re-implementing its state locally.
func newMonitorCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor [command] [args...]",
		Short: "query a running instance's monitor socket",
		Long: `Send one command to a running mcp-squared instance's monitor socket
and print its JSON reply.

Commands: ping, stats, tools [limit], upstreams, clients.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "ping"
			if len(args) > 0 {
				command = strings.Join(args, " ")
			}
			return runMonitorCommand(flags, command)
		},
	}
}

func runMonitorCommand(flags *globalFlags, command string) error {
	sockPath, err := resolveMonitorSocket(flags)
	if err != nil {
		return err
	}

	network, address := "unix", sockPath
	if strings.HasPrefix(sockPath, "tcp://") {
		network, address = "tcp", strings.TrimPrefix(sockPath, "tcp://")
	}

	conn, err := net.DialTimeout(network, address, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial monitor socket %s: %w", sockPath, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("send monitor command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read monitor reply: %w", err)
		}
		return fmt.Errorf("monitor closed the connection without replying")
	}

	fmt.Println(scanner.Text())
	return nil
}

// resolveMonitorSocket honors an explicit --socket override, then
// --instance, then falls back to the first live registered instance.
func resolveMonitorSocket(flags *globalFlags) (string, error) {
	if flags.socket != "" {
		return flags.socket, nil
	}

	reg, err := openInstanceRegistry()
	if err != nil {
		return "", err
	}

	if flags.instance != "" {
		inst, ok, err := reg.FindByID(flags.instance, true)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("no live instance registered with id %q", flags.instance)
		}
		return inst.MonitorSocketPath, nil
	}

	inst, ok, err := reg.Find(true)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no running mcp-squared instance found")
	}
	return inst.MonitorSocketPath, nil
}
