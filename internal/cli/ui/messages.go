package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Level is the severity of a message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message is a multi-part CLI message
//
//	✗ MODULE NOT FOUND: payrol
//	   No module named 'payrol' was discovered.
//
//	   Did you mean: payroll?
//
//	   → See all modules: mindzen modules list
type Message struct {
	Level       Level
	Context     string
	Problem     string
	Detail      string
	Suggestions []string
	Help        []string
	NoColor     bool
}

// Format renders the message
func (m Message) Format() string {
	var b strings.Builder

	var attr color.Attribute
	var symbol string
	switch m.Level {
	case LevelWarning:
		attr, symbol = color.FgYellow, "!"
	case LevelInfo:
		attr, symbol = color.FgCyan, "i"
	default:
		attr, symbol = color.FgRed, "✗"
	}
	head := m.color(attr, color.Bold)
	body := m.color(attr)

	if m.Context != "" {
		head.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(m.Context), m.Problem)
	} else {
		head.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}

	if m.Detail != "" {
		body.Fprintf(&b, "   %s\n", m.Detail)
	}

	if len(m.Suggestions) > 0 {
		b.WriteString("\n")
		m.color(color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(m.Suggestions, ", "))
	}

	if len(m.Help) > 0 {
		b.WriteString("\n")
		cyan := m.color(color.FgCyan)
		for _, h := range m.Help {
			cyan.Fprintf(&b, "   → %s\n", h)
		}
	}

	return b.String()
}

func (m Message) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if m.NoColor {
		c.DisableColor()
	}
	return c
}

// Write writes the formatted message to w
func (m Message) Write(w io.Writer) {
	fmt.Fprint(w, m.Format())
}

// FormatSuccess renders a success line
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success line to w
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// ModuleNotFound describes an unknown module name, suggesting the closest
// known names
func ModuleNotFound(name string, known []string, noColor bool) Message {
	return Message{
		Level:       LevelError,
		Context:     "module not found",
		Problem:     name,
		Detail:      fmt.Sprintf("No module named '%s' was discovered.", name),
		Suggestions: FindSimilar(name, known, DefaultMaxDistance, DefaultMaxSuggestions),
		Help:        []string{"See all modules: mindzen modules list"},
		NoColor:     noColor,
	}
}

// InstallFailed describes a failed install
func InstallFailed(name string, noColor bool) Message {
	return Message{
		Level:   LevelError,
		Context: "install failed",
		Problem: name,
		Detail:  "A dependency is missing, has no implementation, or its post-install step failed.",
		Help: []string{
			"Inspect dependencies: mindzen modules list",
			"See the reason: rerun with --log-level debug",
		},
		NoColor: noColor,
	}
}

// UninstallFailed describes a refused uninstall
func UninstallFailed(name string, dependents []string, noColor bool) Message {
	detail := "Its pre-uninstall step refused."
	if len(dependents) > 0 {
		detail = fmt.Sprintf("Required by installed modules: %s.", strings.Join(dependents, ", "))
	}
	return Message{
		Level:   LevelError,
		Context: "uninstall failed",
		Problem: name,
		Detail:  detail,
		NoColor: noColor,
	}
}

// ConfigError describes an unusable configuration
func ConfigError(err error, noColor bool) Message {
	return Message{
		Level:   LevelError,
		Context: "configuration error",
		Problem: err.Error(),
		Help: []string{
			"View config: cat mindzen.yaml",
			"Get help: mindzen --help",
		},
		NoColor: noColor,
	}
}
