// Command esminfo is a small inspection tool for Bethesda plugin files. It
// is a companion to the esmkit library, not part of its API surface (the
// core library itself has no CLI, per its external-interfaces contract).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bgrewell/esm-kit"
	"github.com/bgrewell/esm-kit/pkg/game"
	"github.com/bgrewell/esm-kit/pkg/logging"
	"github.com/bgrewell/usage"
	"github.com/theckman/yacspin"
	"golang.org/x/term"
)

var gameNames = map[string]game.ID{
	"morrowind": game.Morrowind,
	"oblivion":  game.Oblivion,
	"fallout3":  game.Fallout3,
	"falloutnv": game.FalloutNV,
	"fallout4":  game.Fallout4,
	"skyrim":    game.Skyrim,
	"skyrimse":  game.SkyrimSE,
	"starfield": game.Starfield,
}

func main() {
	u := usage.NewUsage(
		usage.WithApplicationName("esminfo"),
		usage.WithApplicationDescription("esminfo inspects Bethesda plugin files (.esm/.esp/.esl), printing masters, description, scale, and override counts."),
	)

	help := u.AddBooleanOption("h", "help", false, "Show this help message", "optional", nil)
	verbose := u.AddBooleanOption("v", "verbose", false, "Print verbose output", "", nil)
	gameName := u.AddArgument(1, "game", "Game the plugin belongs to (morrowind, oblivion, fallout3, falloutnv, fallout4, skyrim, skyrimse, starfield)", "")
	path := u.AddArgument(2, "plugin-path", "Path to the plugin file to inspect", "")
	parsed := u.Parse()

	if !parsed {
		u.PrintError(fmt.Errorf("failed to parse arguments"))
		os.Exit(1)
	}

	if *help {
		u.PrintUsage()
		os.Exit(0)
	}

	if gameName == nil || *gameName == "" || path == nil || *path == "" {
		u.PrintError(fmt.Errorf("both <game> and <plugin-path> must be provided"))
		os.Exit(1)
	}

	g, ok := gameNames[*gameName]
	if !ok {
		u.PrintError(fmt.Errorf("unrecognized game %q", *gameName))
		os.Exit(1)
	}

	spinner := startSpinner()
	inspect(g, *path, *verbose)
	if spinner != nil {
		_ = spinner.Stop()
	}
}

// startSpinner returns a running spinner, or nil if stdout isn't a
// terminal (matching the teacher's terminal-awareness in its own cmd/
// tools: don't animate output that's being piped or redirected).
func startSpinner() *yacspin.Spinner {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}

	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[9],
		Suffix:          " inspecting plugin",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		return nil
	}
	if err := spinner.Start(); err != nil {
		return nil
	}
	return spinner
}

func inspect(g game.ID, path string, verbose bool) {
	opts := []esmkit.Option{}
	if verbose {
		useColor := term.IsTerminal(int(os.Stdout.Fd()))
		logger := logging.NewSimpleLogger(os.Stderr, logging.LEVEL_TRACE, useColor)
		opts = append(opts, esmkit.WithLogger(logger))
	}

	p := esmkit.New(g, path, opts...)
	if err := p.ParseFile(esmkit.ParseOptions{}); err != nil {
		fmt.Printf("%s: failed to parse: %v\n", path, err)
		return
	}

	masters, err := p.Masters()
	if err != nil {
		fmt.Printf("%s: failed to read masters: %v\n", path, err)
		return
	}
	description, err := p.Description()
	if err != nil {
		fmt.Printf("%s: failed to read description: %v\n", path, err)
		return
	}

	fmt.Printf("=== %s ===\n", filepath.Base(path))
	fmt.Printf("Description: %s\n", description)
	fmt.Printf("Masters: %v\n", masters)
	fmt.Printf("Master file: %t\n", p.IsMasterFile())
	fmt.Printf("Scale: %s\n", p.Scale())

	if err := p.ResolveRecordIds(nil); err != nil {
		fmt.Printf("Override count: unavailable (%v)\n", err)
		return
	}
	overrides, err := p.CountOverrideRecords()
	if err != nil {
		fmt.Printf("Override count: unavailable (%v)\n", err)
		return
	}
	fmt.Printf("Override records: %d\n", overrides)

	if verbose {
		if count := p.RecordAndGroupCount(); count != nil {
			fmt.Printf("Record and group count: %d\n", *count)
		}
		if version := p.HeaderVersion(); version != nil {
			fmt.Printf("Header version: %.2f\n", *version)
		}
		if namespaced, err := p.CountNamespacedRecords(); err == nil {
			fmt.Printf("Namespaced (editor-id) records: %d\n", namespaced)
		}
	}
}
