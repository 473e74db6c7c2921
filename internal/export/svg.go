// Package export renders recorded flights as standalone SVG documents.
package export

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/quadfc/internal/viz"
)

var ErrNoData = errors.New("export: nothing to draw")

// Palette is the stroke colour cycle for series, matching the console.
var Palette = []string{"#00ff9f", "#ffd300", "#00b8ff", "#ff2a6d", "#bd93f9", "#f8f8f2"}

// Series is one named trace of a chart.
type Series struct {
	Name   string
	Values []float64
}

// CanvasToSVG converts a braille canvas, such as the attitude horizon, to
// one circle per lit dot.
func CanvasToSVG(canvas *viz.Canvas, scale float64) string {
	if canvas == nil {
		return ""
	}

	width := float64(canvas.Width) * scale * 2
	height := float64(canvas.Height) * scale * 4

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<g fill="%s">
`, width, height, width, height, Palette[0])

	// bit for each dot of a braille cell, [row][col]
	pixelMap := [4][2]int{
		{0x01, 0x08},
		{0x02, 0x10},
		{0x04, 0x20},
		{0x40, 0x80},
	}
	dotRadius := scale * 0.4

	for row := 0; row < canvas.Height; row++ {
		for col := 0; col < canvas.Width; col++ {
			r := canvas.Grid[row][col]
			if r <= 0x2800 {
				continue
			}
			pattern := int(r - 0x2800)
			baseX := float64(col) * scale * 2
			baseY := float64(row) * scale * 4
			for dy := 0; dy < 4; dy++ {
				for dx := 0; dx < 2; dx++ {
					if pattern&pixelMap[dy][dx] == 0 {
						continue
					}
					cx := baseX + float64(dx)*scale + scale/2
					cy := baseY + float64(dy)*scale + scale/2
					fmt.Fprintf(&sb, "<circle cx=\"%.1f\" cy=\"%.1f\" r=\"%.1f\"/>\n", cx, cy, dotRadius)
				}
			}
		}
	}

	sb.WriteString("</g>\n</svg>")
	return sb.String()
}

// ChartSVG plots every series against times on shared axes, with a zero
// line and a legend. Non-finite samples break the trace.
func ChartSVG(title string, times []float64, series []Series, width, height int) (string, error) {
	if len(times) < 2 || len(series) == 0 {
		return "", ErrNoData
	}
	for _, s := range series {
		if len(s.Values) != len(times) {
			return "", fmt.Errorf("export: series %s has %d samples, want %d", s.Name, len(s.Values), len(times))
		}
	}

	minX, maxX := times[0], times[len(times)-1]
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			minY = math.Min(minY, v)
			maxY = math.Max(maxY, v)
		}
	}
	if math.IsInf(minY, 1) {
		return "", ErrNoData
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeY = maxY - minY

	w, h := float64(width), float64(height)
	px := func(t float64) float64 { return (t - minX) / rangeX * w }
	py := func(v float64) float64 { return h - (v-minY)/rangeY*h }

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)
	if title != "" {
		fmt.Fprintf(&sb, "<text x=\"8\" y=\"16\" fill=\"#888888\" font-family=\"monospace\" font-size=\"12\">%s</text>\n", escape(title))
	}
	if minY < 0 && maxY > 0 {
		fmt.Fprintf(&sb, "<line x1=\"0\" y1=\"%.1f\" x2=\"%d\" y2=\"%.1f\" stroke=\"#333333\" stroke-dasharray=\"4 4\"/>\n", py(0), width, py(0))
	}

	for i, s := range series {
		color := Palette[i%len(Palette)]
		sb.WriteString(`<path fill="none" stroke="` + color + `" stroke-width="1.5" d="`)
		pen := false
		for j, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				pen = false
				continue
			}
			cmd := "L"
			if !pen {
				cmd = "M"
			}
			fmt.Fprintf(&sb, "%s%.1f,%.1f ", cmd, px(times[j]), py(v))
			pen = true
		}
		sb.WriteString("\"/>\n")
		fmt.Fprintf(&sb, "<text x=\"%d\" y=\"%d\" fill=\"%s\" font-family=\"monospace\" font-size=\"12\">%s</text>\n",
			width-120, 16*(i+1), color, escape(s.Name))
	}

	sb.WriteString("</svg>")
	return sb.String(), nil
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
