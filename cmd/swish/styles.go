package main

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("33")) // Blue

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Gray
			Width(12).
			Align(lipgloss.Right)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("160")) // Red

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("40")) // Green

	dirStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")) // Cyan

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Orange
)

// field renders one "label: value" row.
func field(label, value string) string {
	return labelStyle.Render(label+":") + " " + value
}
