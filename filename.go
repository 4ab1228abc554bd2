package main

import (
	"strings"
	"unicode/utf8"
)

// maxFilenameLen caps sanitized attachment names, counted in runes.
const maxFilenameLen = 200

const filenamePlaceholder = '_'

// isUnsafeFilenameRune reports characters that cannot appear in a file name
// on at least one of the filesystems we write to.
func isUnsafeFilenameRune(r rune) bool {
	if r < 0x20 || r == 0x7f {
		return true
	}
	return strings.ContainsRune(`<>:"/\|?*`, r)
}

// sanitizeFilename maps an attachment name to something safe to write on
// disk. Runs of unsafe characters collapse into a single placeholder, the
// extension after the last dot is kept, and the result is at most
// maxFilenameLen runes long.
func sanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	replaced := false
	for _, r := range name {
		if r == utf8.RuneError || isUnsafeFilenameRune(r) {
			if !replaced {
				b.WriteRune(filenamePlaceholder)
			}
			replaced = true
			continue
		}
		replaced = false
		b.WriteRune(r)
	}
	clean := b.String()
	if strings.TrimSpace(clean) == "" {
		return "attachment"
	}
	return truncateFilename(clean, maxFilenameLen)
}

// truncateFilename shortens name to limit runes, cutting from the stem so the
// extension survives.
func truncateFilename(name string, limit int) string {
	runes := []rune(name)
	if len(runes) <= limit {
		return name
	}
	ext := ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		ext = name[i:]
	}
	extLen := utf8.RuneCountInString(ext)
	if extLen >= limit {
		return string(runes[:limit])
	}
	stem := []rune(strings.TrimSuffix(name, ext))
	return string(stem[:limit-extLen]) + ext
}
