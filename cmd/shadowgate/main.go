// Command shadowgate evaluates code-review webhook events against a
// governance policy and emits a deterministic report.
package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runGateCmd(nil, stdout, stderr)
	}

	switch args[1] {
	case "gate", "eval":
		return runGateCmd(args[2:], stdout, stderr)
	case "bundle":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: shadowgate bundle <build|sign|verify>")
			return 2
		}
		return runBundleCmd(args[2:], stdout, stderr)
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "shadowgate %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			// Bare flags run the gate, the default command.
			return runGateCmd(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

const version = "v0.3.0"

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sShadowgate %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sPolicy-gated review for webhook events.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  shadowgate <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "EVALUATION")
	printCommand(w, "gate", "Evaluate an event against a policy (default)")

	printSection(w, "POLICY BUNDLES")
	printCommand(w, "bundle", "Build, sign and verify policy bundles")
	printCommand(w, "keygen", "Generate an RSA signing key pair")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
