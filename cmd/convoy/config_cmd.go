package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/plugins"
	"github.com/mattjoyce/convoy/internal/storage"
)

func runConfigCheck(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	path, err := config.ResolvePath(*configPath)
	if err != nil {
		red.Fprint(out, "FAIL ")
		fmt.Fprintln(out, err)
		return 1
	}

	failed := false
	switch err := config.VerifyChecksum(path); {
	case errors.Is(err, config.ErrNoChecksum):
		yellow.Fprint(out, "WARN ")
		fmt.Fprintln(out, "integrity: no checksum (run 'convoy config lock')")
	case err != nil:
		red.Fprint(out, "FAIL ")
		fmt.Fprintf(out, "integrity: %v\n", err)
		failed = true
	default:
		green.Fprint(out, "OK   ")
		fmt.Fprintln(out, "integrity")
	}

	cfg, err := parseFile(path)
	if err != nil {
		red.Fprint(out, "FAIL ")
		fmt.Fprintf(out, "syntax: %v\n", err)
		return 1
	}
	green.Fprint(out, "OK   ")
	fmt.Fprintln(out, "syntax")

	if unknown := unknownPlugins(cfg); len(unknown) > 0 {
		red.Fprint(out, "FAIL ")
		fmt.Fprintf(out, "plugins: not built in: %s\n", strings.Join(unknown, ", "))
		failed = true
	} else {
		green.Fprint(out, "OK   ")
		fmt.Fprintf(out, "plugins: %s\n", strings.Join(cfg.Loaded(), ", "))
	}

	for name := range cfg.Schedules {
		if !slices.Contains(cfg.Loaded(), name) {
			red.Fprint(out, "FAIL ")
			fmt.Fprintf(out, "schedules: %s is not loaded\n", name)
			failed = true
		}
	}

	switch fsInfo, err := storage.Inspect(cfg.State.Path); {
	case err != nil:
		yellow.Fprint(out, "WARN ")
		fmt.Fprintf(out, "state: %v\n", err)
	case fsInfo.Network:
		red.Fprint(out, "FAIL ")
		fmt.Fprintf(out, "state: %s is on %s\n", cfg.State.Path, fsInfo)
		failed = true
	default:
		green.Fprint(out, "OK   ")
		fmt.Fprintf(out, "state: %s (%s)\n", cfg.State.Path, fsInfo)
	}

	if failed {
		return 1
	}
	return 0
}

// parseFile decodes and validates path without the integrity check, so
// check and lock can report on an edited file.
func parseFile(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return config.Parse(data)
}

func unknownPlugins(cfg *config.Config) []string {
	defs := plugins.Definitions()
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.Name] = true
	}
	var out []string
	for _, name := range cfg.Loaded() {
		if !known[name] {
			out = append(out, name)
		}
	}
	return out
}

func runConfigLock(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := config.ResolvePath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := parseFile(path); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock an invalid config: %v\n", err)
		return 1
	}
	hash, err := config.WriteChecksum(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Locked %s (blake3 %s)\n", path, hash[:16])
	return 0
}

func runConfigShow(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output JSON instead of YAML")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	redactSecrets(cfg)

	if *jsonOut {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(out, string(data))
		return 0
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprint(out, string(data))
	return 0
}

const redacted = "<redacted>"

func redactSecrets(cfg *config.Config) {
	if cfg.API.Auth.APIKey != "" {
		cfg.API.Auth.APIKey = redacted
	}
	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = redacted
	}
	if cfg.API.HookSecret != "" {
		cfg.API.HookSecret = redacted
	}
	if cfg.Transport.Matrix.AccessToken != "" {
		cfg.Transport.Matrix.AccessToken = redacted
	}
}

func runPluginList(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var cfg *config.Config
	if _, err := os.Stat(*configPath); err == nil {
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
			return 1
		}
	}

	bold := color.New(color.Bold)
	for _, def := range plugins.Definitions() {
		bold.Fprint(out, def.Name)
		if def.Testing {
			fmt.Fprint(out, " (testing)")
		}
		fmt.Fprintf(out, "  %s\n", def.Description)
		if cfg == nil {
			continue
		}
		if !slices.Contains(cfg.Loaded(), def.Name) {
			fmt.Fprintln(out, "    not loaded")
			continue
		}
		var convs []string
		for conv, enabled := range cfg.Enabled {
			if slices.Contains(enabled, def.Name) {
				convs = append(convs, conv)
			}
		}
		slices.Sort(convs)
		if len(convs) == 0 {
			fmt.Fprintln(out, "    enabled nowhere")
			continue
		}
		fmt.Fprintf(out, "    enabled in: %s\n", strings.Join(convs, ", "))
	}
	return 0
}
