// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command remedy resolves failing-test context and applies validated
// patches to a Python codebase.
//
// Usage:
//
//	# Start the API server
//	go run ./cmd/remedy serve
//	go run ./cmd/remedy serve --port 9090 --otel
//
//	# Build the semantic index for a project
//	go run ./cmd/remedy index --project-root /path/to/project
//
//	# Search the index
//	go run ./cmd/remedy search "rate limiting helper"
//	go run ./cmd/remedy search --method GET --path /health
//
//	# Resolve context for a failing unit
//	go run ./cmd/remedy context --test-file tests/test_api.py --unit test_rate_limit
//
//	# Apply a replacement from a file
//	go run ./cmd/remedy apply --file app/limits.py --unit check_rate --from fix.py
//
//	# Validate a file standalone
//	go run ./cmd/remedy validate app/limits.py
//
// Example requests against the server:
//
//	# Health check
//	curl http://localhost:8080/v1/remedy/health
//
//	# Resolve context
//	curl -X POST http://localhost:8080/v1/remedy/context \
//	  -H "Content-Type: application/json" \
//	  -d '{"test_file": "tests/test_api.py", "unit_name": "test_rate_limit", "error_message": "assert 429 == 200"}'
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/remedy/services/remedy"
	"github.com/AleutianAI/remedy/services/remedy/config"
	"github.com/AleutianAI/remedy/services/remedy/patch"
)

// Flag values shared across subcommands.
var (
	configPath  string
	projectRoot string
	verbose     bool
)

func main() {
	root := &cobra.Command{
		Use:   "remedy",
		Short: "Failing-test context resolution and transactional patching",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (empty: defaults + environment)")
	root.PersistentFlags().StringVar(&projectRoot, "project-root", "", "Python project root (overrides config)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(newServeCmd(), newIndexCmd(), newSearchCmd(), newContextCmd(), newApplyCmd(), newValidateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadService builds a Service from the flags.
func loadService() (*remedy.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if projectRoot != "" {
		cfg.ProjectRoot = projectRoot
	}
	return remedy.NewService(cfg)
}

// =============================================================================
// serve
// =============================================================================

func newServeCmd() *cobra.Command {
	var (
		port     int
		debug    bool
		withOtel bool
		noRunner bool
		noEmbeds bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Remedy API server",
		RunE: func(_ *cobra.Command, _ []string) error {
			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			))
			if withOtel {
				shutdown, err := setupOtel(context.Background())
				if err != nil {
					return fmt.Errorf("otel setup: %w", err)
				}
				defer shutdown()
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if projectRoot != "" {
				cfg.ProjectRoot = projectRoot
			}
			if noRunner {
				cfg.Runner.Enabled = false
			}
			if noEmbeds {
				cfg.Embedding.Disabled = true
			}

			svc, err := remedy.NewService(cfg)
			if err != nil {
				return err
			}

			router := gin.New()
			router.Use(gin.Recovery())
			router.Use(otelgin.Middleware("aleutian-remedy"))
			if debug {
				router.Use(gin.Logger())
			}

			v1 := router.Group("/v1")
			remedy.RegisterRoutes(v1, remedy.NewHandlers(svc))

			printBanner(port, cfg)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-quit
				slog.Info("Shutting down Remedy server")
				if err := svc.Close(); err != nil {
					slog.Warn("Failed to close snapshot cache", slog.String("error", err.Error()))
				}
				os.Exit(0)
			}()

			addr := fmt.Sprintf(":%d", port)
			slog.Info("Starting Remedy server", slog.String("address", addr))
			return router.Run(addr)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "Port to listen on")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug mode")
	cmd.Flags().BoolVar(&withOtel, "otel", false, "Export traces and metrics to stdout")
	cmd.Flags().BoolVar(&noRunner, "no-runner", false, "Disable scoped test validation")
	cmd.Flags().BoolVar(&noEmbeds, "no-embeddings", false, "Disable the semantic layer")
	return cmd
}

// setupOtel wires stdout trace and metric exporters. Returns a shutdown
// function flushing both.
func setupOtel(ctx context.Context) (func(), error) {
	traceExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	otel.SetTracerProvider(tp)

	metricExp, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetMeterProvider(mp)

	return func() {
		shutdownCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("trace provider shutdown", slog.String("error", err.Error()))
		}
		if err := mp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("meter provider shutdown", slog.String("error", err.Error()))
		}
	}, nil
}

func printBanner(port int, cfg *config.Config) {
	embeddings := "ENABLED"
	if cfg.Embedding.Disabled {
		embeddings = "DISABLED (structural resolution only)"
	}
	runner := "ENABLED"
	if !cfg.Runner.Enabled {
		runner = "DISABLED (syntax validation only)"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                      ALEUTIAN REMEDY SERVER                       ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Failing-test context resolution and transactional patching.      ║
║  Embeddings: %-52s ║
║  Scoped validation: %-45s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/remedy/health             │  ║
║  │                                                             │  ║
║  │ # Build the semantic index                                  │  ║
║  │ curl -X POST http://localhost:%d/v1/remedy/index \    │  ║
║  │   -H "Content-Type: application/json" -d '{"force": false}' │  ║
║  │                                                             │  ║
║  │ # Resolve context for a failing unit                        │  ║
║  │ curl -X POST http://localhost:%d/v1/remedy/context \  │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"test_file": "tests/test_api.py",                    │  ║
║  │        "unit_name": "test_rate_limit"}'                     │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints: /context, /search, /index, /patch, /patch/file,       ║
║             /validate, /health                                    ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, embeddings, runner, port, port, port)
}

// =============================================================================
// index / search
// =============================================================================

func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the semantic index for the project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.BuildIndex(cmd.Context(), force); err != nil {
				return err
			}
			fmt.Printf("indexed %d elements\n", svc.IndexSize())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Rebuild even when a snapshot exists")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		topK   int
		method string
		path   string
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the semantic index",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx := cmd.Context()
			if err := svc.BuildIndex(ctx, false); err != nil {
				return err
			}

			var results any
			switch {
			case method != "" && path != "":
				results, err = svc.SearchByEndpoint(ctx, method, path, topK)
			case len(args) > 0:
				query := args[0]
				for _, a := range args[1:] {
					query += " " + a
				}
				results, err = svc.Search(ctx, query, topK)
			default:
				return fmt.Errorf("a query or --method and --path are required")
			}
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 10, "Result count")
	cmd.Flags().StringVar(&method, "method", "", "HTTP method for endpoint search")
	cmd.Flags().StringVar(&path, "path", "", "HTTP path for endpoint search")
	return cmd
}

// =============================================================================
// context / apply / validate
// =============================================================================

func newContextCmd() *cobra.Command {
	var (
		testFile  string
		unit      string
		errKind   string
		errMsg    string
		traceback string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Resolve a failing unit to a context payload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.GetContext(cmd.Context(), remedy.FailingUnitDescriptor{
				TestFile:      testFile,
				UnitName:      unit,
				ErrorKind:     errKind,
				ErrorMessage:  errMsg,
				TracebackText: traceback,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(result)
			}
			if result.Rendered == "" {
				fmt.Println("(no context resolved)")
				return nil
			}
			fmt.Print(result.Rendered)
			return nil
		},
	}
	cmd.Flags().StringVar(&testFile, "test-file", "", "Failing test file")
	cmd.Flags().StringVar(&unit, "unit", "", "Failing unit name")
	cmd.Flags().StringVar(&errKind, "error-kind", "", "Failure kind (e.g. AssertionError)")
	cmd.Flags().StringVar(&errMsg, "error", "", "Error message")
	cmd.Flags().StringVar(&traceback, "traceback", "", "Traceback text (defaults to --error when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	_ = cmd.MarkFlagRequired("test-file")
	_ = cmd.MarkFlagRequired("unit")
	return cmd
}

func newApplyCmd() *cobra.Command {
	var (
		file     string
		unit     string
		fromFile string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Replace one unit with validated replacement text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			replacement, err := os.ReadFile(fromFile)
			if err != nil {
				return fmt.Errorf("read replacement: %w", err)
			}

			svc, err := loadService()
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.Apply(cmd.Context(), patch.PatchRequest{
				FilePath:    file,
				UnitName:    unit,
				Replacement: string(replacement),
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "File containing the unit")
	cmd.Flags().StringVar(&unit, "unit", "", "Unit to replace")
	cmd.Flags().StringVar(&fromFile, "from", "", "File holding the replacement text")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("unit")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a file for syntax errors and duplicate parametrize decorators",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.ValidateFile(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
