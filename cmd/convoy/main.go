package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const defaultConfigPath = "config.yaml"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "plugin":
		return runPluginNoun(args)

	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: convoy version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("convoy %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `convoy - chat bot that runs plugins per conversation

Usage:
  convoy <noun> <action> [flags]

System Commands:
  system start      Start the bot in the foreground
  system watch      Live view of dispatcher activity (needs the API)

Config Commands:
  config check      Validate syntax and integrity
  config lock       Rewrite the integrity checksum after editing
  config show       Print the resolved configuration

Plugin Commands:
  plugin list       Show built-in plugins and where they are enabled

General:
  start             Alias for 'system start'
  watch             Alias for 'system watch'
  version           Show version information
  help              Show this help message

The config file defaults to ./config.yaml or $CONVOY_CONFIG.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	action, actionArgs := args[0], args[1:]
	switch {
	case isHelpToken(action):
		printSystemNounHelp(os.Stdout)
		return 0
	case action == "start":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: convoy system start [--config PATH]")
			fmt.Println("Connect to the transport and serve until interrupted.")
			return 0
		}
		return runStart(actionArgs)
	case action == "watch":
		if hasHelpFlag(actionArgs) {
			printWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	action, actionArgs := args[0], args[1:]
	if isHelpToken(action) {
		printConfigNounHelp(os.Stdout)
		return 0
	}
	if hasHelpFlag(actionArgs) {
		fmt.Printf("Usage: convoy config %s [--config PATH]\n", action)
		return 0
	}
	switch action {
	case "check":
		return runConfigCheck(actionArgs, os.Stdout)
	case "lock":
		return runConfigLock(actionArgs, os.Stdout)
	case "show":
		return runConfigShow(actionArgs, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runPluginNoun(args []string) int {
	if len(args) < 1 {
		printPluginNounHelp(os.Stderr)
		return 1
	}
	action, actionArgs := args[0], args[1:]
	switch {
	case isHelpToken(action):
		printPluginNounHelp(os.Stdout)
		return 0
	case action == "list":
		return runPluginList(actionArgs, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: convoy system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: convoy config <action> [--config PATH]")
	fmt.Fprintln(w, "Actions: check, lock, show")
}

func printPluginNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: convoy plugin <action>")
	fmt.Fprintln(w, "Actions: list")
}

func printWatchHelp() {
	fmt.Println("Usage: convoy system watch [--api-url URL] [--api-key KEY]")
	fmt.Println()
	fmt.Println("Live view of conversations, workers and exclusive sessions.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    API URL (default: http://127.0.0.1:8080)")
	fmt.Println("  --api-key KEY    Bearer token with events:ro (or CONVOY_API_KEY)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Select conversation")
}

// configFlag registers --config on fs with the usual default.
func configFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("CONVOY_CONFIG")
	if def == "" {
		def = defaultConfigPath
	}
	return fs.String("config", def, "Path to configuration file or directory")
}
