package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wikimd",
	Short: "Export Confluence pages to Markdown",
	Long: `Export Confluence storage-format pages to Markdown, optionally downloading
attachments, bundling a space as an epub, or republishing it into Wiki.js.

Connection settings come from the environment:
  CONFLUENCE_BASE_URL, CONFLUENCE_USERNAME, CONFLUENCE_API_TOKEN,
  CONFLUENCE_INSECURE_TLS, WIKIMD_TIMEOUT, WIKIMD_MAX_IMAGE_WIDTH,
  WIKIJS_URL, WIKIJS_API_KEY, WIKIJS_LOCALE, WIKIJS_PATH_PREFIX,
  WIKIJS_LOWERCASE_ASSETS`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupOutput,
}

// globalOptions are flags shared by every command.
type globalOptions struct {
	Verbose  bool
	Silent   bool
	Insecure bool
	Timeout  time.Duration
	MaxWidth int
}

// conversionFlags are flags for commands that write Markdown.
type conversionFlags struct {
	OutputDir      string
	PreserveTables bool
	DownloadImages bool
	ForWikiJS      bool
}

func (c *conversionFlags) InitFlags(cmd *cobra.Command, defaultDir string) {
	cmd.Flags().StringVarP(&c.OutputDir, "output", "o", defaultDir, "Output directory")
	cmd.Flags().BoolVar(&c.PreserveTables, "preserve-tables", false, "Keep tables as cleaned HTML instead of pipe tables")
	cmd.Flags().BoolVar(&c.DownloadImages, "download-images", false, "Download attachment images to <output>/images")
	cmd.Flags().BoolVar(&c.ForWikiJS, "for-wikijs", false, "Strip annotations and render admonitions as blockquotes")
}

func (c conversionFlags) exportOptions() exportOptions {
	return exportOptions{
		OutputDir:      c.OutputDir,
		PreserveTables: c.PreserveTables,
		DownloadImages: c.DownloadImages,
		ForWikiJS:      c.ForWikiJS,
	}
}

var (
	globalOpts  globalOptions
	pageFlags   conversionFlags
	spaceFlags  conversionFlags
	fileFlags   conversionFlags
	dirFlags    conversionFlags
	publishOpts struct{ PreserveTables bool }
	epubPath    string
)

var pageCmd = &cobra.Command{
	Use:   "page <id>",
	Short: "Export a single page",
	Long: `Export a single page to Markdown.

Without --output the Markdown is written to stdout.

Examples:
  wikimd page 123456
  wikimd page 123456 -o ./docs --download-images`,
	Args: cobra.ExactArgs(1),
	RunE: runPage,
}

var spaceCmd = &cobra.Command{
	Use:   "space <key>",
	Short: "Export every page of a space",
	Long: `Export every page of a space into the output directory. Page failures are
reported and skipped.

Examples:
  wikimd space DOCS -o ./docs --download-images
  wikimd space DOCS --download-images --epub docs.epub`,
	Args: cobra.ExactArgs(1),
	RunE: runSpace,
}

var fileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Convert a local storage-format or HTML export file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFile,
}

var dirCmd = &cobra.Command{
	Use:   "dir <path>",
	Short: "Convert every export file under a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runDir,
}

var publishCmd = &cobra.Command{
	Use:   "publish <key>",
	Short: "Republish a space into Wiki.js",
	Long: `Republish every page of a space into Wiki.js. Attachments are uploaded to an
asset folder named after the space and pages that already exist at their
path are updated.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve conversion tools over MCP (stdio)",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&globalOpts.Verbose, "verbose", "v", false, "Print debug output")
	pf.BoolVar(&globalOpts.Silent, "silent", false, "Suppress all output except errors")
	pf.BoolVar(&globalOpts.Insecure, "insecure", false, "Skip TLS certificate verification")
	pf.DurationVar(&globalOpts.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	pf.IntVar(&globalOpts.MaxWidth, "max-image-width", 0, "Downscale downloaded images wider than this (0 keeps originals)")

	pageFlags.InitFlags(pageCmd, "")
	spaceFlags.InitFlags(spaceCmd, "./output")
	spaceCmd.Flags().StringVar(&epubPath, "epub", "", "Also write an epub bundle of the space to this file")
	fileFlags.InitFlags(fileCmd, "")
	dirFlags.InitFlags(dirCmd, "./output")
	publishCmd.Flags().BoolVar(&publishOpts.PreserveTables, "preserve-tables", false, "Keep tables as cleaned HTML instead of pipe tables")

	rootCmd.AddCommand(pageCmd, spaceCmd, fileCmd, dirCmd, publishCmd, mcpCmd)
}

// setupOutput routes log, debug and progress writers for the run.
func setupOutput(cmd *cobra.Command, _ []string) error {
	if globalOpts.Silent {
		logOut = io.Discard
		return nil
	}
	if globalOpts.Verbose {
		verboseOut = os.Stderr
	}
	switch cmd {
	case spaceCmd, dirCmd, publishCmd:
		progressOut = os.Stdout
	case pageCmd, fileCmd:
		if cmd.Flags().Lookup("output").Value.String() != "" {
			progressOut = os.Stdout
		}
	}
	return nil
}

// runtimeConfig is the environment config with global flags applied.
func runtimeConfig(cmd *cobra.Command) config {
	cfg := loadConfig()
	flags := cmd.Flags()
	if flags.Changed("insecure") {
		cfg.InsecureTLS = globalOpts.Insecure
	}
	if flags.Changed("timeout") && globalOpts.Timeout > 0 {
		cfg.Timeout = globalOpts.Timeout
	}
	if flags.Changed("max-image-width") {
		cfg.MaxWidth = globalOpts.MaxWidth
	}
	return cfg
}

// sourceExporter builds an exporter backed by the configured source wiki.
func sourceExporter(cmd *cobra.Command, opts exportOptions) (*exporter, error) {
	cfg := runtimeConfig(cmd)
	if err := cfg.validateSource(); err != nil {
		return nil, err
	}
	client := cfg.confluenceClient()
	return &exporter{
		source:  client,
		baseURL: client.BaseURL(),
		auth:    client.Auth(),
		cfg:     cfg,
		opts:    opts,
	}, nil
}

// localExporter builds an exporter for local files. The source wiki is
// optional and only used to resolve attachment downloads.
func localExporter(cmd *cobra.Command, opts exportOptions) (*exporter, error) {
	cfg := runtimeConfig(cmd)
	x := &exporter{cfg: cfg, opts: opts}
	if opts.DownloadImages {
		if err := cfg.validateSource(); err != nil {
			return nil, fmt.Errorf("--download-images needs the source wiki: %w", err)
		}
	}
	if cfg.BaseURL != "" {
		x.baseURL = cfg.BaseURL
		x.auth = cfg.auth()
	}
	return x, nil
}

func runPage(cmd *cobra.Command, args []string) error {
	x, err := sourceExporter(cmd, pageFlags.exportOptions())
	if err != nil {
		return err
	}
	res, err := x.exportPage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return emit(res)
}

func runFile(cmd *cobra.Command, args []string) error {
	x, err := localExporter(cmd, fileFlags.exportOptions())
	if err != nil {
		return err
	}
	res, err := x.convertFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if x.opts.OutputDir != "" {
		if err := x.write(&res, nil); err != nil {
			return err
		}
	}
	return emit(res)
}

// emit writes a single-item result to stdout, or reports where it was saved.
func emit(res pageResult) error {
	if res.Path == "" {
		_, err := os.Stdout.WriteString(res.Markdown)
		return err
	}
	pprintf("✓ %s\n", res.Path)
	fmt.Fprintf(logOut, "Wrote %s\n", res.Path)
	return nil
}

func runSpace(cmd *cobra.Command, args []string) error {
	opts := spaceFlags.exportOptions()
	opts.EpubPath = epubPath
	x, err := sourceExporter(cmd, opts)
	if err != nil {
		return err
	}
	t, err := x.exportSpace(cmd.Context(), args[0])
	return finishBatch(t, err)
}

func runDir(cmd *cobra.Command, args []string) error {
	x, err := localExporter(cmd, dirFlags.exportOptions())
	if err != nil {
		return err
	}
	t, err := x.convertDir(cmd.Context(), args[0])
	return finishBatch(t, err)
}

func runPublish(cmd *cobra.Command, args []string) error {
	x, err := sourceExporter(cmd, exportOptions{PreserveTables: publishOpts.PreserveTables})
	if err != nil {
		return err
	}
	if err := x.cfg.validateDestination(); err != nil {
		return err
	}
	x.dest = x.cfg.wikiJSClient()
	t, err := x.publishSpace(cmd.Context(), args[0])
	return finishBatch(t, err)
}

// finishBatch prints the closing tally. A batch with failed items still
// completes, but the process exits non-zero.
func finishBatch(t *tally, err error) error {
	if t != nil {
		fmt.Fprintf(logOut, "%s\n", t.summary())
	}
	if err != nil {
		return err
	}
	if _, failed := t.counts(); failed > 0 {
		return fmt.Errorf("%d item(s) failed", failed)
	}
	return nil
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg := runtimeConfig(cmd)
	var src pageSource
	if err := cfg.validateSource(); err == nil {
		src = cfg.confluenceClient()
	} else {
		debugf("mcp: export_page disabled: %v\n", err)
	}
	// stdout carries the protocol.
	progressOut = io.Discard
	return server.ServeStdio(newMCPServer(src))
}
