package viz

import (
	"math"
	"strings"
)

// Braille patterns: 2x4 dots per cell, offset 0x2800.
var pixelMap = [4][2]int{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

// Canvas is a braille pixel grid of Width x Height cells, that is
// 2*Width x 4*Height dots.
type Canvas struct {
	Width, Height int
	Grid          [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{Width: w, Height: h, Grid: make([][]rune, h)}
	for i := range c.Grid {
		c.Grid[i] = make([]rune, w)
	}
	c.Clear()
	return c
}

func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 {
		return
	}
	col, row := x/2, y/4
	if col >= c.Width || row >= c.Height {
		return
	}
	c.Grid[row][col] |= rune(pixelMap[y%4][x%2])
}

func (c *Canvas) Clear() {
	for i := range c.Grid {
		for j := range c.Grid[i] {
			c.Grid[i][j] = 0x2800
		}
	}
}

// DrawLine draws a line using Bresenham's algorithm.
func (c *Canvas) DrawLine(x0, y0, x1, y1 int) {
	dx, dy := absInt(x1-x0), absInt(y1-y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy
	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// DrawHorizon draws an attitude indicator: the horizon line tilted by roll
// and shifted by pitch, with a fixed aircraft symbol in the middle. Pitch
// of maxPitch moves the horizon to the canvas edge.
func (c *Canvas) DrawHorizon(roll, pitch, maxPitch float64) {
	w, h := 2*c.Width, 4*c.Height
	cx, cy := float64(w)/2, float64(h)/2

	shift := 0.0
	if maxPitch > 0 {
		shift = math.Max(-1, math.Min(1, pitch/maxPitch)) * cy
	}
	// horizon drops on the side the craft rolls toward
	sin, cos := math.Sin(-roll), math.Cos(-roll)
	half := float64(w)
	x0 := cx - half*cos
	y0 := cy + shift - half*sin
	x1 := cx + half*cos
	y1 := cy + shift + half*sin
	c.DrawLine(int(math.Round(x0)), int(math.Round(y0)), int(math.Round(x1)), int(math.Round(y1)))

	wing := w / 6
	icx, icy := int(cx), int(cy)
	c.DrawLine(icx-wing, icy, icx-2, icy)
	c.DrawLine(icx+2, icy, icx+wing, icy)
	c.Set(icx, icy)
}

func (c *Canvas) String() string {
	var b strings.Builder
	for i, row := range c.Grid {
		b.WriteString(string(row))
		if i < len(c.Grid)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
