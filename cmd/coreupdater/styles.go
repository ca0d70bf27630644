// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Adaptive palette: the first value is used on light terminals.
var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "#5B21B6", Dark: "#A78BFA"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#4B5563", Dark: "#9CA3AF"}
	colorOK      = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	colorFailure = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	colorPending = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	colorName    = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
)

var (
	// TitleStyle heads a command's output.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	// SubtitleStyle is for footers and secondary columns.
	SubtitleStyle = lipgloss.NewStyle().Foreground(colorMuted)
	// SuccessStyle marks installed or verified packages.
	SuccessStyle = lipgloss.NewStyle().Foreground(colorOK)
	// ErrorStyle prefixes fatal errors.
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(colorFailure)
	// WarningStyle flags a pending restart or a disabled updater.
	WarningStyle = lipgloss.NewStyle().Foreground(colorPending)
	// KeyStyle renders package names and configuration keys.
	KeyStyle = lipgloss.NewStyle().Foreground(colorName)
)
