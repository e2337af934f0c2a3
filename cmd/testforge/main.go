// Command testforge generates unit tests for Python code with an LLM and a
// sandboxed execution loop. It wires the session, record store, sandbox and
// generator together; all behavior lives in the packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"testforge/pkg/config"
	"testforge/pkg/coverage"
	"testforge/pkg/extract"
	"testforge/pkg/generator"
	"testforge/pkg/logx"
	"testforge/pkg/metrics"
	"testforge/pkg/persistence"
	"testforge/pkg/sandbox"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "version", "-version", "--version":
		fmt.Printf("testforge %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	case "generate":
		os.Exit(runGenerate(os.Args[2:]))
	case "targets":
		os.Exit(runTargets(os.Args[2:]))
	case "coverage":
		os.Exit(runCoverage(os.Args[2:]))
	case "rerun":
		os.Exit(runRerun(os.Args[2:]))
	case "help", "-help", "--help":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: testforge <command> [flags]

Commands:
  generate   Generate tests for one object of a module
  targets    List the generatable objects of a module
  coverage   Show accumulated coverage for an object
  rerun      Re-execute a stored test by record id
  version    Show version information

Examples:
  testforge generate -projectdir ./myproject -source myproject/calc.py -target net_amount
  testforge generate -projectdir ./myproject -source myproject/calc.py -target Account.deposit
  testforge targets -projectdir ./myproject -source myproject/calc.py
  testforge coverage -projectdir ./myproject -source myproject/calc.py -target Account.deposit
  testforge rerun -projectdir ./myproject -id 42
`)
}

// splitTarget splits "Class.method" into its parts; a bare name is a function
// target with no method.
func splitTarget(target string) (name, method string) {
	if i := strings.IndexByte(target, '.'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

func loadConfig(projectDir string) (config.Config, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// signalContext cancels on SIGINT/SIGTERM so the sandbox container is
// stopped on the way out.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// serveMetrics exposes the registry on addr until the process exits.
func serveMetrics(addr string, reg *prometheus.Registry, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped: %v", err)
		}
	}()
}

//nolint:cyclop // flag parsing plus linear wiring
func runGenerate(args []string) int {
	flags := flag.NewFlagSet("generate", flag.ExitOnError)
	projectDir := flags.String("projectdir", ".", "Project directory")
	source := flags.String("source", "", "Path to the module under test")
	target := flags.String("target", "", "Object to test: function name or Class.method")
	model := flags.String("model", "", "Override the configured model")
	out := flags.String("out", "", "Write the accepted test to this file (default: stdout)")
	metricsAddr := flags.String("metrics-addr", "", "Expose prometheus metrics on this address")
	debug := flags.Bool("debug", false, "Enable debug logging")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *source == "" || *target == "" {
		fmt.Fprintln(os.Stderr, "Error: -source and -target are required")
		flags.Usage()
		return 2
	}
	logx.SetDebug(*debug)
	logger := logx.NewLogger("testforge")

	cfg, err := loadConfig(*projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}
	if *model != "" {
		cfg.Generation.Model = *model
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
			return 1
		}
	}

	session, err := config.NewSession(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Session setup failed: %v\n", err)
		return 1
	}

	store, err := persistence.Open(config.DatabasePath(cfg.Project.Dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open record store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	var recorder *metrics.Recorder
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		recorder = metrics.NewRecorder(reg)
		serveMetrics(*metricsAddr, reg, logger)
	}

	ctx, cancel := signalContext()
	defer cancel()

	runner := sandbox.NewDockerRunner(cfg.Sandbox, session.Adapter, cfg.Project.Dir)
	if err := runner.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Sandbox startup failed: %v\n", err)
		return 1
	}
	defer func() {
		if err := runner.Stop(context.Background()); err != nil {
			logger.Warn("failed to stop sandbox: %v", err)
		}
	}()

	gen, err := generator.New(session, runner, store, recorder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Generator setup failed: %v\n", err)
		return 1
	}

	name, method := splitTarget(*target)
	result, err := gen.GenerateTests(ctx, *source, name, method)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Generation failed: %v\n", err)
		return 1
	}

	logger.Info("final state %s after %d repair iterations (record %d, tokens %d/%d)",
		result.State, result.Iterations, result.RecordID,
		result.Usage.PromptTokens, result.Usage.CompletionTokens)

	if *out != "" {
		if err := os.WriteFile(*out, []byte(result.Test), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write test file: %v\n", err)
			return 1
		}
		fmt.Printf("Wrote %s test to %s\n", strings.ToLower(string(result.State)), *out)
	} else {
		fmt.Println(result.Test)
	}

	if result.State != generator.StateAccepted {
		return 1
	}
	return 0
}

func runTargets(args []string) int {
	flags := flag.NewFlagSet("targets", flag.ExitOnError)
	projectDir := flags.String("projectdir", ".", "Project directory")
	source := flags.String("source", "", "Path to the module under test")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *source == "" {
		fmt.Fprintln(os.Stderr, "Error: -source is required")
		return 2
	}

	unit, err := extract.Parse(*source, *projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		return 1
	}
	for _, target := range generator.Targets(unit) {
		fmt.Println(target)
	}
	return 0
}

func runCoverage(args []string) int {
	flags := flag.NewFlagSet("coverage", flag.ExitOnError)
	projectDir := flags.String("projectdir", ".", "Project directory")
	source := flags.String("source", "", "Path to the module under test")
	target := flags.String("target", "", "Object to report: function name or Class.method")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *source == "" || *target == "" {
		fmt.Fprintln(os.Stderr, "Error: -source and -target are required")
		return 2
	}

	unit, err := extract.Parse(*source, *projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		return 1
	}

	store, err := persistence.Open(config.DatabasePath(*projectDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open record store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	name, method := splitTarget(*target)
	object, class := name, ""
	if method != "" {
		object, class = method, name
	}

	agg := coverage.New(store)
	percent, err := agg.Coverage(unit, object, class)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Coverage failed: %v\n", err)
		return 1
	}
	missing, err := agg.MissingLines(unit, object, class)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Coverage failed: %v\n", err)
		return 1
	}

	fmt.Printf("%s: %d%% covered\n", *target, percent)
	if len(missing) > 0 {
		fmt.Printf("missing lines: %v\n", missing)
	}
	return 0
}

func runRerun(args []string) int {
	flags := flag.NewFlagSet("rerun", flag.ExitOnError)
	projectDir := flags.String("projectdir", ".", "Project directory")
	id := flags.Int64("id", 0, "Record id to re-execute")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *id <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -id is required")
		return 2
	}
	logger := logx.NewLogger("testforge")

	cfg, err := loadConfig(*projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}

	adapter, err := extract.NewAdapter(cfg.Project.Language)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Adapter setup failed: %v\n", err)
		return 1
	}

	store, err := persistence.Open(config.DatabasePath(cfg.Project.Dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open record store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	runner := sandbox.NewDockerRunner(cfg.Sandbox, adapter, cfg.Project.Dir)
	if err := runner.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Sandbox startup failed: %v\n", err)
		return 1
	}
	defer func() {
		if err := runner.Stop(context.Background()); err != nil {
			logger.Warn("failed to stop sandbox: %v", err)
		}
	}()

	// Rerun does not need a completion client: build a session with only the
	// pieces rerun touches.
	session := &config.Session{Config: cfg, Adapter: adapter}
	gen, err := generator.New(session, runner, store, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Generator setup failed: %v\n", err)
		return 1
	}

	rep, err := gen.RerunStored(ctx, *id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rerun failed: %v\n", err)
		return 1
	}

	if rep.Passed() {
		fmt.Printf("record %d: %d tests passed\n", *id, rep.TestsRan)
		return 0
	}
	fmt.Printf("record %d: %s\n", *id, rep.Summary())
	return 1
}
