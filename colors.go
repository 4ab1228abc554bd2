package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	backgroundColorRe = regexp.MustCompile(`(?i)background(?:-color)?\s*:\s*([^;]+)`)
	rgbFuncRe         = regexp.MustCompile(`(?i)^rgba?\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})`)
	hexColorRe        = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})\b`)
)

// highlightColors maps the editor's named cell highlights to their hex values.
var highlightColors = map[string]string{
	"grey":   "#f4f5f7",
	"gray":   "#f4f5f7",
	"red":    "#ffebe6",
	"yellow": "#fffae6",
	"green":  "#e3fcef",
	"blue":   "#deebff",
	"purple": "#eae6ff",
	"teal":   "#e6fcff",
}

// highlightColor resolves a highlight name or literal hex color.
func highlightColor(v string) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	if strings.HasPrefix(v, "#") {
		return v, hexColorRe.MatchString(v)
	}
	c, ok := highlightColors[v]
	return c, ok
}

// parseBackgroundColor extracts an RGB triple from the background color in an
// inline style attribute. rgb(), rgba(), #rrggbb and #rgb are understood.
func parseBackgroundColor(style string) (r, g, b int, ok bool) {
	m := backgroundColorRe.FindStringSubmatch(style)
	if m == nil {
		return 0, 0, 0, false
	}
	return parseColor(m[1])
}

func parseColor(value string) (r, g, b int, ok bool) {
	value = strings.TrimSpace(value)
	if m := rgbFuncRe.FindStringSubmatch(value); m != nil {
		r, _ = strconv.Atoi(m[1])
		g, _ = strconv.Atoi(m[2])
		b, _ = strconv.Atoi(m[3])
		if r > 255 || g > 255 || b > 255 {
			return 0, 0, 0, false
		}
		return r, g, b, true
	}
	m := hexColorRe.FindStringSubmatch(value)
	if m == nil {
		return 0, 0, 0, false
	}
	hex := m[1]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return int(n >> 16 & 0xff), int(n >> 8 & 0xff), int(n & 0xff), true
}

// colorName classifies a cell background. The five bands are disjoint and
// cover the pastel status colors tables are usually shaded with; anything
// else keeps its exact value as color-R-G-B.
func colorName(r, g, b int) string {
	switch {
	case r >= 200 && r < 240 && g >= 230 && b >= 200 && b < 245 && g > r:
		return "success"
	case r >= 250 && g >= 240 && b < 235:
		return "warning"
	case r >= 250 && g >= 200 && g < 240 && b >= 200 && b < 240:
		return "error"
	case inRange(r, 240, 250) && inRange(g, 240, 250) && inRange(b, 240, 250) && abs(r-b) < 10:
		return "neutral"
	case r >= 200 && r < 235 && g >= 220 && g < 245 && b >= 245:
		return "info"
	}
	return fmt.Sprintf("color-%d-%d-%d", r, g, b)
}

func inRange(v, lo, hi int) bool { return v >= lo && v < hi }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
