// Package main implements recorder-wizard, an interactive terminal builder
// for recording plan files.
//
// recorder-wizard walks the operator through adding display, window,
// camera, and microphone capture schemes one at a time, then writes the
// resulting plan as JSON for recorderd to load with --plan.
//
// Usage:
//
//	recorder-wizard --out=PATH [options]
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/avreclab/recorder-engine/internal/menu"
	"github.com/avreclab/recorder-engine/internal/plan"
)

var (
	outPath  = flag.String("out", "plan.json", "Path to write the plan JSON file")
	editPath = flag.String("edit", "", "Path to an existing plan file to load and append to")
	showHelp = flag.Bool("help", false, "Show this help message")
)

const (
	kindDisplay = iota
	kindWindow
	kindCamera
	kindMicrophone
	kindDone
)

func main() {
	flag.Parse()
	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	p := plan.Plan{}
	if *editPath != "" {
		loaded, err := plan.LoadFile(*editPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "recorder-wizard: failed to load %s: %v\n", *editPath, err)
			os.Exit(1)
		}
		p = loaded
		fmt.Fprintf(os.Stdout, "Loaded %d existing scheme(s) from %s\n", len(p.Items), *editPath)
	}

	for {
		item, ok := promptScheme()
		if !ok {
			break
		}
		p.Items = append(p.Items, item)
		fmt.Fprintf(os.Stdout, "Added %s scheme %q (%d total)\n", item.Kind, item.Filename, len(p.Items))

		if !menu.Confirm(os.Stdin, os.Stdout, "Add another capture scheme?") {
			break
		}
	}

	if err := p.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "recorder-wizard: plan is invalid: %v\n", err)
		os.Exit(1)
	}

	if err := plan.SaveFile(*outPath, p); err != nil {
		fmt.Fprintf(os.Stderr, "recorder-wizard: failed to write %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Wrote %d scheme(s) to %s\n", len(p.Items), *outPath)

	if menu.Confirm(os.Stdin, os.Stdout, "Start recorderd with this plan now?") {
		outputDir := menu.Input(os.Stdin, os.Stdout, "Output directory for recordings")
		if outputDir == "" {
			outputDir = "."
		}
		if err := menu.RunCommand(os.Stdout, "recorderd", "--plan="+*outPath, "--output-dir="+outputDir); err != nil {
			fmt.Fprintf(os.Stderr, "recorder-wizard: recorderd exited with error: %v\n", err)
			os.Exit(1)
		}
	}
}

func promptScheme() (plan.SchemeItem, bool) {
	kind := menu.Select(os.Stdin, os.Stdout, "Capture scheme type", []string{
		"Display", "Window", "Camera", "Microphone", "Done adding schemes",
	})

	switch kind {
	case kindDisplay:
		return promptDisplay(), true
	case kindWindow:
		return promptWindow(), true
	case kindCamera:
		return promptCamera(), true
	case kindMicrophone:
		return promptMicrophone(), true
	default:
		return plan.SchemeItem{}, false
	}
}

func promptDisplay() plan.SchemeItem {
	opts := plan.DefaultScreenOptions()
	opts.ShowsCursor = menu.Confirm(os.Stdin, os.Stdout, "Show cursor in the recording?")
	opts.HDR = menu.Confirm(os.Stdin, os.Stdout, "Capture in HDR?")
	opts.UseHEVC = menu.Confirm(os.Stdin, os.Stdout, "Prefer HEVC encoding when available?")
	if fps := promptInt("Frames per second", opts.FPS); fps > 0 {
		opts.FPS = fps
	}

	return plan.SchemeItem{
		Kind:               plan.KindDisplay,
		Filename:           menu.Input(os.Stdin, os.Stdout, "Output filename (e.g. screen.mov)"),
		DisplayID:          menu.Input(os.Stdin, os.Stdout, "Display ID"),
		HDR:                opts.HDR,
		CaptureSystemAudio: menu.Confirm(os.Stdin, os.Stdout, "Capture system audio into this file?"),
		ScreenOptions:      opts,
	}
}

func promptWindow() plan.SchemeItem {
	opts := plan.DefaultScreenOptions()
	opts.ShowsCursor = menu.Confirm(os.Stdin, os.Stdout, "Show cursor in the recording?")
	if fps := promptInt("Frames per second", opts.FPS); fps > 0 {
		opts.FPS = fps
	}

	return plan.SchemeItem{
		Kind:               plan.KindWindow,
		Filename:           menu.Input(os.Stdin, os.Stdout, "Output filename (e.g. window.mov)"),
		WindowID:           menu.Input(os.Stdin, os.Stdout, "Window ID"),
		CaptureSystemAudio: menu.Confirm(os.Stdin, os.Stdout, "Capture system audio into this file?"),
		ScreenOptions:      opts,
	}
}

func promptCamera() plan.SchemeItem {
	opts := plan.DefaultCameraOptions()
	opts.PreferHEVC = menu.Confirm(os.Stdin, os.Stdout, "Prefer HEVC encoding when available?")

	return plan.SchemeItem{
		Kind:          plan.KindCamera,
		Filename:      menu.Input(os.Stdin, os.Stdout, "Output filename (e.g. camera.mov)"),
		CameraID:      menu.Input(os.Stdin, os.Stdout, "Camera device ID (e.g. /dev/video0)"),
		CameraOptions: opts,
	}
}

func promptMicrophone() plan.SchemeItem {
	opts := plan.DefaultMicrophoneOptions()
	opts.EnableProcessing = menu.Confirm(os.Stdin, os.Stdout, "Enable gain/AGC/limiter processing?")
	if opts.EnableProcessing {
		opts.EnableAGC = menu.Confirm(os.Stdin, os.Stdout, "Enable automatic gain control?")
		opts.EnableLimiter = menu.Confirm(os.Stdin, os.Stdout, "Enable the soft-clip limiter?")
	}

	return plan.SchemeItem{
		Kind:              plan.KindMicrophone,
		Filename:          menu.Input(os.Stdin, os.Stdout, "Output filename (e.g. mic.m4a)"),
		MicrophoneID:      menu.Input(os.Stdin, os.Stdout, "Microphone device ID or name"),
		MicrophoneOptions: opts,
	}
}

func promptInt(prompt string, def int) int {
	raw := menu.Input(os.Stdin, os.Stdout, fmt.Sprintf("%s [%d]", prompt, def))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func printUsage() {
	fmt.Println("recorder-wizard - interactive recording plan builder")
	fmt.Println()
	fmt.Println("Usage: recorder-wizard --out=PATH [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}
