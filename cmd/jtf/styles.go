package main

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("62")  // Purple
	colorSecondary = lipgloss.Color("241") // Gray
	colorHighlight = lipgloss.Color("212") // Pink
	colorSuccess   = lipgloss.Color("78")  // Green
	colorWarn      = lipgloss.Color("214") // Orange
	colorError     = lipgloss.Color("196") // Red
)

var titleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight).
	MarginBottom(1)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorPrimary)

var labelStyle = lipgloss.NewStyle().
	Foreground(colorSecondary).
	Width(22)

var valueStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255"))

var okStyle = lipgloss.NewStyle().Foreground(colorSuccess)

var warnStyle = lipgloss.NewStyle().Foreground(colorWarn)

var errorStyle = lipgloss.NewStyle().
	Foreground(colorError).
	Bold(true)

var mutedStyle = lipgloss.NewStyle().Foreground(colorSecondary)

// row renders a label/value pair.
func row(label string, value any) string {
	return labelStyle.Render(label) + valueStyle.Render(fmtValue(value))
}

// cell pads s to width and applies style.
func cell(style lipgloss.Style, width int, s string) string {
	return style.Width(width).Render(truncate(s, width))
}
