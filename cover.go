// Cover image for space epubs: a tile pattern seeded from the space key with
// the title and page count on a central band.
package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	epub "github.com/go-shiori/go-epub"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	coverWidth  = 1200
	coverHeight = 1800

	coverBandTop    = 650
	coverBandBottom = 1150
)

// generateCover renders a grayscale PNG cover. The same title always yields
// the same image.
func generateCover(title string, pageCount int) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, coverWidth, coverHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{0xFF}), image.Point{}, draw.Src)
	drawTiles(img, sha256.Sum256([]byte(title)))

	titleFace, err := loadFace(gobold.TTF, 64)
	if err != nil {
		return nil, fmt.Errorf("loading bold font: %w", err)
	}
	metaFace, err := loadFace(goregular.TTF, 32)
	if err != nil {
		return nil, fmt.Errorf("loading regular font: %w", err)
	}
	drawTitleBand(img, title, pageCountLabel(pageCount), titleFace, metaFace)

	label := "wikimd"
	drawString(img, label, metaFace, coverWidth-40-font.MeasureString(metaFace, label).Ceil(), coverHeight-40)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding cover PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func pageCountLabel(n int) string {
	if n == 1 {
		return "1 page"
	}
	return fmt.Sprintf("%d pages", n)
}

// drawTiles fills the areas above and below the title band with a grid of
// inset squares whose shade and size come from the hash.
func drawTiles(img *image.Gray, hash [32]byte) {
	const (
		cols  = 10
		rows  = 15
		cellW = coverWidth / cols
		cellH = coverHeight / rows
	)
	for row := 0; row < rows; row++ {
		y0 := row * cellH
		if y0+cellH > coverBandTop && y0 < coverBandBottom {
			continue
		}
		for col := 0; col < cols; col++ {
			i := (row*cols + col) % len(hash)
			shade := hash[i] ^ byte(row*19+col*29)
			// 0x40..0xC0 stays legible on e-ink
			gray := uint8(0x40 + int(shade)*(0xC0-0x40)/255)
			inset := 4 + int(hash[(i+11)%len(hash)]^byte(col*7+row*3))%(cellW/4)
			r := image.Rect(col*cellW+inset, y0+inset, (col+1)*cellW-inset, y0+cellH-inset)
			draw.Draw(img, r, image.NewUniform(color.Gray{gray}), image.Point{}, draw.Src)
		}
	}
}

// drawTitleBand writes the wrapped title and a meta line centred in a white
// band between two rules.
func drawTitleBand(img *image.Gray, title, meta string, titleFace, metaFace font.Face) {
	const padX = 80
	draw.Draw(img, image.Rect(0, coverBandTop, coverWidth, coverBandBottom),
		image.NewUniform(color.Gray{0xFF}), image.Point{}, draw.Src)
	for x := padX; x < coverWidth-padX; x++ {
		img.SetGray(x, coverBandTop+20, color.Gray{0x99})
		img.SetGray(x, coverBandBottom-20, color.Gray{0x99})
	}

	lines := wrapText(title, titleFace, coverWidth-2*padX)
	lineHeight := titleFace.Metrics().Height.Ceil() + 8
	metaHeight := metaFace.Metrics().Height.Ceil() + 16
	y := coverBandTop + (coverBandBottom-coverBandTop-len(lines)*lineHeight-metaHeight)/2 + titleFace.Metrics().Ascent.Ceil()
	for _, line := range lines {
		drawString(img, line, titleFace, (coverWidth-font.MeasureString(titleFace, line).Ceil())/2, y)
		y += lineHeight
	}
	y += 16
	drawString(img, meta, metaFace, (coverWidth-font.MeasureString(metaFace, meta).Ceil())/2, y)
}

// drawString renders s in black with its baseline at y.
func drawString(img *image.Gray, s string, face font.Face, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Gray{0x00}),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// wrapText splits text into lines no wider than maxWidth pixels. A single
// word wider than maxWidth gets a line of its own.
func wrapText(text string, face font.Face, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{text}
	}
	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		trial := current + " " + word
		if font.MeasureString(face, trial).Ceil() <= maxWidth {
			current = trial
			continue
		}
		lines = append(lines, current)
		current = word
	}
	return append(lines, current)
}

// loadFace parses an OpenType font at the given size in points.
func loadFace(ttf []byte, sizePt float64) (font.Face, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    sizePt,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// addCover generates a cover and sets it on the book.
func addCover(e *epub.Epub, title string, pageCount int) error {
	data, err := generateCover(title, pageCount)
	if err != nil {
		return err
	}
	internal, err := e.AddImage("data:image/png;base64,"+base64.StdEncoding.EncodeToString(data), "cover.png")
	if err != nil {
		return fmt.Errorf("adding cover image: %w", err)
	}
	e.SetCover(internal, "")
	return nil
}
