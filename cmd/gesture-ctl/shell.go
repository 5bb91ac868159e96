package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"gesturemix/engine"
)

func gestureItems() []readline.PrefixCompleterInterface {
	hands := func() []readline.PrefixCompleterInterface {
		return []readline.PrefixCompleterInterface{
			readline.PcItem("left"),
			readline.PcItem("right"),
			readline.PcItem("none"),
		}
	}
	var items []readline.PrefixCompleterInterface
	for _, g := range engine.GestureTypes() {
		items = append(items, readline.PcItem(strings.ToLower(string(g)), hands()...))
	}
	return items
}

func shellCompleter() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("gesture", gestureItems()...),
		readline.PcItem("idle"),
		readline.PcItem("profile"),
		readline.PcItem("profiles"),
		readline.PcItem("sensitivity"),
		readline.PcItem("deadzone"),
		readline.PcItem("mode",
			readline.PcItem("gesture"),
			readline.PcItem("monitor"),
			readline.PcItem("off"),
		),
		readline.PcItem("latency"),
		readline.PcItem("stats"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func printShellHelp(w io.Writer) {
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  gesture <type> <hand> <value> [conf]  Submit a gesture frame\n")
	fmt.Fprintf(w, "  idle                                  Submit an empty frame\n")
	fmt.Fprintf(w, "  profile <id>                          Activate a profile\n")
	fmt.Fprintf(w, "  profiles                              List profiles\n")
	fmt.Fprintf(w, "  sensitivity <mapping> <v>             Set sensitivity\n")
	fmt.Fprintf(w, "  deadzone <mapping> <v>                Set deadzone\n")
	fmt.Fprintf(w, "  mode <gesture|monitor|off>            Set control mode\n")
	fmt.Fprintf(w, "  latency | stats                       Show telemetry\n")
	fmt.Fprintf(w, "  help | exit\n\n")
}

// runShell runs an interactive session over a single IPC connection.
func runShell(socketPath string) error {
	c, err := dial(socketPath)
	if err != nil {
		return err
	}
	defer c.Close()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gesture> ",
		HistoryFile:     filepath.Join(homeDir, ".gesture_ctl_history"),
		AutoComplete:    shellCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintf(out, "connected to %s\n", socketPath)
	printShellHelp(out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help":
			printShellHelp(out)
			continue
		}

		req, err := parseCommand(fields, time.Now())
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		data, err := c.call(req)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printResult(out, data)
	}
}
