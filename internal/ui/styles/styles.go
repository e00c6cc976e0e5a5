// Package styles contains Lip Gloss color and style definitions shared by
// terminal views.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Semantic color names - Text hierarchy
	TextPrimaryColor   = lipgloss.AdaptiveColor{Light: "#1A1A1A", Dark: "#CCCCCC"} // Titles
	TextSecondaryColor = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#BBBBBB"} // Column headers
	TextMutedColor     = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#696969"} // Hints, last-event text

	// Semantic color names - Border
	BorderDefaultColor = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}

	// Semantic color names - Status
	StatusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"} // Idle, ready
	StatusWarningColor = lipgloss.AdaptiveColor{Light: "#C48A00", Dark: "#FECA57"} // In flight
	StatusErrorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"} // Error, unresponsive
)

