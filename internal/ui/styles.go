// Package ui holds terminal styling helpers for the CLI.
package ui

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue: event types
	colorEntity  = 250 // light gray: entity references
	colorMuted   = 245 // medium gray: timestamps, versions
	colorWarning = 215 // orange: deletes and rollbacks
)

var noColor bool

// Init decides color use once at process start, based on the stream the
// styled output is written to. Conventions checked in order: NO_COLOR
// (https://no-color.org, any non-empty value disables), CLICOLOR_FORCE=1
// (forces color even without a TTY), CLICOLOR=0 (disables), then TTY
// detection on the stream itself.
func Init(out *os.File) {
	if !colorWanted(out) {
		noColor = true
	}
}

func colorWanted(out *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return term.IsTerminal(int(out.Fd()))
}

// RenderEventType returns an event type string in the accent color.
// Deletion and rollback events render in the warning color instead, so
// they stand out in a stream of routine updates.
func RenderEventType(s string, destructive bool) string {
	if noColor {
		return s
	}
	code := colorAccent
	if destructive {
		code = colorWarning
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderEntity returns an entity reference (type/id) in light gray.
func RenderEntity(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorEntity, s)
}

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorMuted, s)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
