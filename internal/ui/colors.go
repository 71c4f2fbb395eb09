package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/mvx/internal/tasks"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	muted lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
		muted: NewStyle(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// badge renders an item state as a one-glyph marker.
func (p *Palette) badge(s tasks.ItemState) string {
	switch s {
	case tasks.ItemComplete:
		return p.ok.Render("✓")
	case tasks.ItemError:
		return p.err.Render("✗")
	case tasks.ItemRunning:
		return p.warn.Render("›")
	default:
		return p.muted.Render("·")
	}
}
