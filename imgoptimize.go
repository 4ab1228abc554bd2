// Optional downscaling of downloaded attachment images.
package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

func humanSize(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	f := float64(n)
	for _, u := range units {
		if math.Abs(f) < 1024 {
			return fmt.Sprintf("%.1f%s", f, u)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1f%s", f, units[len(units)-1])
}

// resize downscales an image using BiLinear resampling.
func resize(src image.Image, dstW, dstH int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

// flattenAlpha composites src onto a white background.
func flattenAlpha(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	white := image.NewUniform(color.White)
	draw.Draw(dst, b, white, image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}

func isAnimatedGIF(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return len(g.Image) > 1
}

// downscaleImage shrinks raster images wider than maxWidth, keeping the
// aspect ratio. JPEG stays JPEG; every other decodable format is written as
// PNG, which format reports. changed is false when the input is returned
// untouched: SVG, animated GIF, undecodable data, or already narrow enough.
func downscaleImage(data []byte, maxWidth int) (out []byte, format string, changed bool) {
	if maxWidth <= 0 {
		return data, "", false
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= maxWidth {
		return data, format, false
	}
	if format == "gif" && isAnimatedGIF(data) {
		return data, format, false
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		fmt.Fprintf(logOut, "Warning: could not decode image (%s): %v\n", format, err)
		return data, format, false
	}

	b := img.Bounds()
	ratio := float64(maxWidth) / float64(b.Dx())
	newH := int(math.Round(float64(b.Dy()) * ratio))
	if newH < 1 {
		newH = 1
	}
	scaled := resize(img, maxWidth, newH)

	var buf bytes.Buffer
	if format == "jpeg" {
		err = jpeg.Encode(&buf, flattenAlpha(scaled), &jpeg.Options{Quality: 85})
	} else {
		format = "png"
		err = png.Encode(&buf, scaled)
	}
	if err != nil {
		fmt.Fprintf(logOut, "Warning: %s encode failed: %v\n", format, err)
		return data, format, false
	}
	return buf.Bytes(), format, true
}
