package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"

	"github.com/CZERTAINLY/cipher-lens/internal/log"
	"github.com/CZERTAINLY/cipher-lens/internal/model"
	"github.com/CZERTAINLY/cipher-lens/internal/nmap"
	"github.com/CZERTAINLY/cipher-lens/internal/report"
	"github.com/CZERTAINLY/cipher-lens/internal/server"
	"github.com/CZERTAINLY/cipher-lens/internal/sslscan"
	"github.com/CZERTAINLY/cipher-lens/internal/stats"
	"github.com/CZERTAINLY/cipher-lens/internal/store"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// counters are published to expvar once per process
var runStats = sync.OnceValue(func() *stats.Stats {
	return stats.New("cipher-lens")
})

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code:
// 2 for unreadable or malformed documents, 1 for other failures.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := newCLI(stdout, stderr)
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	slog.Error("cipher-lens failed", "err", err)
	if strings.HasPrefix(err.Error(), "unknown command") {
		_ = root.Help()
	} else if isUsageError(err) {
		_ = cmd.Help()
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, model.ErrMalformedDocument), errors.Is(err, model.ErrIO):
		return 2
	default:
		return 1
	}
}

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func isUsageError(err error) bool {
	var uerr usageError
	return errors.As(err, &uerr)
}

// cli holds values of all flags, so the command tree can be built
// more than once in a process.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	configPath string // actual config file used (if loaded)

	flagConfigFilePath string
	flagVerbose        bool

	inputFile string
	nmapOnly  bool
	format    string
	opts      Options

	hosts     []string
	ports     []string
	nmapBin   string
	catalogID []string
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{stdout: stdout, stderr: stderr}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cipher-lens",
		Short:         "Assess cipher suites offered by TLS services found by nmap",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.flagConfigFilePath, "config", "", "Config file to load, - reads stdin (env "+model.ConfigEnv+")")
	root.PersistentFlags().BoolVar(&c.flagVerbose, "verbose", false, "verbose logging")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run sslscan against TLS services of an nmap XML document and assess the ciphers",
		Args:  cobra.NoArgs,
		RunE:  c.doScan,
	}
	scanCmd.Flags().StringVar(&c.inputFile, "inputfile", "", "nmap XML document (nmap -sV -oX)")
	scanCmd.Flags().BoolVar(&c.opts.NoScan, "noscan", false, "do not run sslscan, assess documents already in --output")
	scanCmd.Flags().BoolVar(&c.nmapOnly, "nmaponly", false, "print TLS targets found in --inputfile and exit")
	c.outputFlags(scanCmd)
	c.reportFlags(scanCmd)
	_ = scanCmd.MarkFlagRequired("inputfile")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Run nmap service detection, then sslscan and assess the ciphers",
		Args:  cobra.NoArgs,
		RunE:  c.doDiscover,
	}
	discoverCmd.Flags().StringSliceVar(&c.hosts, "hosts", nil, "hosts or networks to scan")
	discoverCmd.Flags().StringSliceVar(&c.ports, "ports", nil, "ports to scan, nmap syntax (default nmap top ports)")
	discoverCmd.Flags().StringVar(&c.nmapBin, "nmap", "", "path to nmap binary")
	discoverCmd.Flags().BoolVar(&c.nmapOnly, "nmaponly", false, "print found TLS targets and exit")
	c.outputFlags(discoverCmd)
	c.reportFlags(discoverCmd)
	_ = discoverCmd.MarkFlagRequired("hosts")

	assessCmd := &cobra.Command{
		Use:   "assess",
		Short: "Assess ciphers of a single sslscan XML document",
		Args:  cobra.NoArgs,
		RunE:  c.doAssess,
	}
	assessCmd.Flags().StringVar(&c.inputFile, "inputfile", "", "sslscan XML document (sslscan --xml)")
	c.reportFlags(assessCmd)
	_ = assessCmd.MarkFlagRequired("inputfile")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the assessment over HTTP",
		Args:  cobra.NoArgs,
		RunE:  c.doServe,
	}

	catalogCmd := &cobra.Command{
		Use:   "catalog [id...]",
		Short: "Print strength categories of cipher suite ids, all of them without arguments",
		RunE:  c.doCatalog,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  c.doConfig,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "version provides a version of cipher-lens",
		Args:  cobra.NoArgs,
		RunE:  c.doVersion,
	}

	root.AddCommand(scanCmd, discoverCmd, assessCmd, serveCmd, catalogCmd, configCmd, versionCmd)
	return root
}

func (c *cli) outputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.opts.Ext, "ext", sslscan.DefaultExt, "suffix of sslscan output files")
	cmd.Flags().StringVar(&c.opts.Output, "output", ".", "directory for sslscan output files, created if absent")
}

func (c *cli) reportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&c.opts.NoSecure, "nosecure", false, "do not print secure and recommended cipher suites")
	cmd.Flags().StringVar(&c.opts.ReportFile, "reportfile", "", "write the report to this file too")
	cmd.Flags().BoolVar(&c.opts.Strength, "strength", false, "print the strength category as a third column")
	cmd.Flags().StringVar(&c.format, "format", string(report.FormatText), "report format: text or json")
	cmd.Flags().StringVar(&c.opts.CBOM, "cbom", "", "write CycloneDX CBOM of all assessed ciphers to this file")
}

func (c *cli) doScan(cmd *cobra.Command, _ []string) error {
	ctx, config, closeLog, err := c.setup(cmd, "scan")
	if err != nil {
		return err
	}
	defer closeLog()

	doc, err := nmap.ParseFile(ctx, c.inputFile)
	if err != nil {
		return err
	}
	targets := nmap.TLSTargets(ctx, doc)
	slog.DebugContext(ctx, "tls targets extracted", "inputfile", c.inputFile, "targets", len(targets))
	return c.scan(ctx, config, targets)
}

func (c *cli) doDiscover(cmd *cobra.Command, _ []string) error {
	ctx, config, closeLog, err := c.setup(cmd, "discover")
	if err != nil {
		return err
	}
	defer closeLog()

	scanner := nmap.New()
	if c.nmapBin != "" {
		scanner = scanner.WithNmapBinary(c.nmapBin)
	}
	if len(c.ports) > 0 {
		scanner = scanner.WithPorts(c.ports...)
	}
	doc, err := scanner.Scan(ctx, c.hosts...)
	if err != nil {
		return err
	}
	return c.scan(ctx, config, nmap.TLSTargets(ctx, doc))
}

func (c *cli) scan(ctx context.Context, config model.Config, targets []model.TLSTarget) error {
	if c.nmapOnly {
		for _, t := range targets {
			if _, err := fmt.Fprintln(c.stdout, t.String()); err != nil {
				return err
			}
		}
		return nil
	}

	lens, err := c.lens(ctx, config)
	if err != nil {
		return err
	}
	defer lens.Close()
	return lens.Scan(ctx, targets)
}

func (c *cli) doAssess(cmd *cobra.Command, _ []string) error {
	ctx, config, closeLog, err := c.setup(cmd, "assess")
	if err != nil {
		return err
	}
	defer closeLog()

	lens, err := c.lens(ctx, config)
	if err != nil {
		return err
	}
	defer lens.Close()
	return lens.Assess(ctx, c.inputFile)
}

func (c *cli) lens(ctx context.Context, config model.Config) (*Lens, error) {
	format, err := report.ParseFormat(c.format)
	if err != nil {
		return nil, usageError{err: err}
	}
	opts := c.opts
	opts.Format = format
	return NewLens(ctx, config, opts, runStats(), c.stdout)
}

func (c *cli) doServe(cmd *cobra.Command, _ []string) error {
	ctx, config, closeLog, err := c.setup(cmd, "serve")
	if err != nil {
		return err
	}
	defer closeLog()

	// init new or read-in the existing sqlite state file
	db, err := store.InitDB(ctx, config.Server.StateFile)
	if err != nil {
		return fmt.Errorf("failure initializing sqlite database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.ErrorContext(ctx, "Got error while closing *sql.DB.", slog.String("error", err.Error()))
		}
	}()
	cache, closeCache, err := cacheDB(ctx, config, db, config.Server.StateFile)
	if err != nil {
		return err
	}
	defer closeCache()

	srv, err := server.New(config.Server, db, newFetcher(config, cache), runStats())
	if err != nil {
		return err
	}
	defer srv.Close(ctx)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

func (c *cli) doCatalog(cmd *cobra.Command, args []string) error {
	ctx, config, closeLog, err := c.setup(cmd, "catalog")
	if err != nil {
		return err
	}
	defer closeLog()

	db, closeDB, err := cacheDB(ctx, config, nil, "")
	if err != nil {
		return err
	}
	defer closeDB()

	m, err := newFetcher(config, db).Fetch(ctx)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		for _, e := range m.Entries() {
			fmt.Fprintln(c.stdout, e.ID, e.Strength, e.Name)
		}
		return nil
	}

	var errs []error
	for _, id := range args {
		e, err := m.Lookup(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintln(c.stdout, e.ID, e.Strength, e.Name)
	}
	return errors.Join(errs...)
}

func (c *cli) doConfig(cmd *cobra.Command, _ []string) error {
	_, config, closeLog, err := c.setup(cmd, "config")
	if err != nil {
		return err
	}
	defer closeLog()

	enc := yaml.NewEncoder(c.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(config); err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	return enc.Close()
}

func (c *cli) doVersion(_ *cobra.Command, _ []string) error {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return fmt.Errorf("cipher-lens: version info not available")
	}

	fmt.Fprintf(c.stdout, "cipher-lens: %s\n", info.Main.Version)
	fmt.Fprintf(c.stdout, "go:          %s\n", info.GoVersion)
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			fmt.Fprintf(c.stdout, "commit:      %s\n", s.Value)
		case "vcs.time":
			fmt.Fprintf(c.stdout, "date:        %s\n", s.Value)
		case "vcs.modified":
			fmt.Fprintf(c.stdout, "dirty:       %s\n", s.Value)
		}
	}
	return nil
}

// setup loads the configuration and initializes logging. The returned
// close function is never nil.
func (c *cli) setup(cmd *cobra.Command, name string) (context.Context, model.Config, func(), error) {
	nop := func() {}
	ctx := cmd.Context()

	config, err := c.loadConfig(ctx)
	if err != nil {
		return ctx, config, nop, err
	}

	// --verbose has a precedence over config file
	if c.flagVerbose {
		config.Service.Verbose = true
	}

	w, closeLog, err := log.Open(config.Service.Log)
	if err != nil {
		return ctx, config, nop, err
	}
	slog.SetDefault(log.NewTo(w, config.Service.Verbose))

	attrs := slog.Group("cipher-lens",
		slog.String("cmd", name),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)
	slog.DebugContext(ctx, "", "configPath", c.configPath)
	slog.DebugContext(ctx, "", "config", config)

	return ctx, config, func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(c.stderr, "closing log: %v\n", err)
		}
	}, nil
}

func (c *cli) loadConfig(ctx context.Context) (model.Config, error) {
	if c.flagConfigFilePath != "" {
		c.configPath = c.flagConfigFilePath
	} else if envConfig, ok := os.LookupEnv(model.ConfigEnv); ok && envConfig != "" {
		c.configPath = envConfig
	}

	if c.configPath == "" {
		return model.DefaultConfig(ctx), nil
	}
	config, err := model.LoadConfigFromPath(c.configPath)
	if err != nil {
		return config, fmt.Errorf("loading config %s: %w", c.configPath, err)
	}
	return config, nil
}
