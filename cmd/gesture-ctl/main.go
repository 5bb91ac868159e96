package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ============================================================================
// gesture-ctl - Command-line IPC Client
// ============================================================================
// Sends commands and synthetic gesture frames to gesturemixd via IPC.
//
// Usage:
//   gesture-ctl gesture pinch right 0.8
//   gesture-ctl profile live
//   gesture-ctl mode monitor
//   gesture-ctl shell
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/gesturemix.sock)
// ============================================================================

const defaultSocketPath = "/tmp/gesturemix.sock"

func main() {
	socketPath := defaultSocketPath

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "help", "-h", "--help":
		printUsage()
		return
	case "shell":
		if err := runShell(socketPath); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	req, err := parseCommand(args, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			printUsage()
		}
		os.Exit(1)
	}

	c, err := dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	data, err := c.call(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	printResult(os.Stdout, data)
}

// printResult prints "ok" for empty replies and indented JSON otherwise.
func printResult(w io.Writer, data json.RawMessage) {
	if len(data) == 0 {
		fmt.Fprintln(w, "ok")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintln(w, buf.String())
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `gesture-ctl - Control the gesturemixd daemon via IPC

Usage:
  gesture-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  gesture, g <type> <hand> <value> [confidence]
                                Submit a one-result gesture frame
  idle                          Submit an empty frame
  profile, use <id>             Activate a mapping profile
  profiles                      List profiles and the active one
  sensitivity <mapping> <v>     Set a mapping's sensitivity
  deadzone <mapping> <v>        Set a mapping's deadzone [0, 0.5)
  mode <gesture|monitor|off>    Set the control mode
  latency                       Show the last tick latency
  stats                         Show engine counters
  shell                         Interactive shell with history
  help, -h, --help              Show this help message

Examples:
  gesture-ctl gesture pinch right 0.8 0.95
  gesture-ctl sensitivity vocals-volume 1.5
  gesture-ctl -socket /run/gesturemix.sock mode monitor
`, defaultSocketPath)
}
