package main

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"golang.org/x/image/font/gofont/goregular"
)

func TestGenerateCover_Dimensions(t *testing.T) {
	data, err := generateCover("Engineering Handbook", 42)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("cover is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != coverWidth || b.Dy() != coverHeight {
		t.Errorf("expected %dx%d, got %dx%d", coverWidth, coverHeight, b.Dx(), b.Dy())
	}
}

func TestGenerateCover_Deterministic(t *testing.T) {
	a, err := generateCover("OPS", 3)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := generateCover("OPS", 3)
	if !bytes.Equal(a, b) {
		t.Error("expected identical covers for the same title")
	}
	c, _ := generateCover("DEV", 3)
	if bytes.Equal(a, c) {
		t.Error("expected different covers for different titles")
	}
}

func TestPageCountLabel(t *testing.T) {
	if got := pageCountLabel(1); got != "1 page" {
		t.Errorf("got %q", got)
	}
	if got := pageCountLabel(12); got != "12 pages" {
		t.Errorf("got %q", got)
	}
}

func TestWrapText(t *testing.T) {
	face, err := loadFace(goregular.TTF, 32)
	if err != nil {
		t.Fatal(err)
	}
	if got := wrapText("short", face, 1000); len(got) != 1 || got[0] != "short" {
		t.Errorf("expected one line, got %q", got)
	}
	got := wrapText("alpha beta gamma", face, 1)
	if strings.Join(got, "|") != "alpha|beta|gamma" {
		t.Errorf("expected a word per line, got %q", got)
	}
	if got := wrapText("", face, 100); len(got) != 1 {
		t.Errorf("expected single empty line, got %q", got)
	}
}
