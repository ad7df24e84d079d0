package danmaku

import "github.com/mattn/go-runewidth"

// Metrics measures rendered text for lane and transit geometry.
type Metrics interface {
	TextWidth(content string, fontPx float64, fontFamily string) float64
	LineHeight(fontPx float64) float64
}

// ProportionalMetrics approximates pixel geometry: a narrow cell is half an
// em and wide (CJK) runes take a full em.
type ProportionalMetrics struct{}

func (ProportionalMetrics) TextWidth(content string, fontPx float64, _ string) float64 {
	return float64(runewidth.StringWidth(content)) * fontPx / 2
}

func (ProportionalMetrics) LineHeight(fontPx float64) float64 {
	return fontPx * 1.25
}

// CellMetrics measures on a character grid. Each column is CellWidth px and
// each row RowHeight px whatever the font size; zero means one px.
type CellMetrics struct {
	CellWidth float64
	RowHeight float64
}

// TextWidth counts terminal cells, with wide runes taking two.
func (m CellMetrics) TextWidth(content string, _ float64, _ string) float64 {
	return float64(runewidth.StringWidth(content)) * orOne(m.CellWidth)
}

// LineHeight is one row whatever the font size.
func (m CellMetrics) LineHeight(float64) float64 {
	return orOne(m.RowHeight)
}

func orOne(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}
