// wikimd: Export Confluence storage-format pages to Markdown.
//
// Single page to stdout:
//
//	wikimd page <id>
//
// Whole space, with attachments and an epub bundle:
//
//	wikimd space <key> -o ./docs --download-images --epub docs.epub
//
// Republish a space into Wiki.js:
//
//	wikimd publish <key>
package main

import (
	"fmt"
	"io"
	"os"
)

// logOut is the writer for informational/progress output.
// In silent mode it is set to io.Discard so only errors reach the user.
var logOut io.Writer = os.Stderr

// verboseOut receives debug detail such as skipped images and degraded
// macros. Enabled with --verbose.
var verboseOut io.Writer = io.Discard

func debugf(format string, args ...any) {
	fmt.Fprintf(verboseOut, format, args...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
