// Markdown conversion: storage markup → intermediate HTML → Markdown.
package main

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

// conversionOptions selects the converter configuration for one document.
type conversionOptions struct {
	PreserveHTMLTables bool
	PageID             string
}

// One converter per table mode. Each is configured once and only read
// afterwards, so conversions never see the other mode's rules.
var (
	mdConverters     [2]*converter.Converter
	mdConvertersOnce [2]sync.Once
)

func tableModeIndex(preserveTables bool) int {
	if preserveTables {
		return 1
	}
	return 0
}

// getMarkdownConverter returns the shared converter for a table mode.
func getMarkdownConverter(preserveTables bool) *converter.Converter {
	i := tableModeIndex(preserveTables)
	mdConvertersOnce[i].Do(func() {
		mdConverters[i] = newMarkdownConverter(preserveTables)
	})
	return mdConverters[i]
}

func newMarkdownConverter(preserveTables bool) *converter.Converter {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(
				commonmark.WithHeadingStyle(commonmark.HeadingStyleATX),
				commonmark.WithBulletListMarker("-"),
				commonmark.WithCodeBlockFence("```"),
				commonmark.WithHorizontalRule("---"),
			),
		),
	)
	registerRules(conv, preserveTables)
	return conv
}

var excessNewlinesRe = regexp.MustCompile(`\n{3,}`)

// convertHTMLToMarkdown runs intermediate HTML through the converter.
func convertHTMLToMarkdown(htmlStr string, opts conversionOptions) (string, error) {
	md, err := getMarkdownConverter(opts.PreserveHTMLTables).ConvertString(htmlStr)
	if err != nil {
		return "", fmt.Errorf("markdown conversion: %w", err)
	}
	md = excessNewlinesRe.ReplaceAllString(md, "\n\n")
	return strings.TrimSpace(md), nil
}

// convertStorageToMarkdown converts raw storage markup to Markdown.
func convertStorageToMarkdown(raw string, opts conversionOptions) (string, error) {
	return convertHTMLToMarkdown(preprocess(raw, opts.PageID), opts)
}
