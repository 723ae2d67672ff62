package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foomo/newsletter-mcp/mcp"
	"github.com/foomo/newsletter-mcp/sanitize"
	"github.com/foomo/newsletter-mcp/service"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const appName = "newsletter-mcp"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:          appName,
		Short:        "Serve the sections of the published newsletter document",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Settings file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&configPath, &logLevel))
	cmd.AddCommand(fetchCmd(&configPath, &logLevel))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, mcp.Version)
		},
	})

	return cmd
}

func serveCmd(configPath, logLevel *string) *cobra.Command {
	var (
		stdioMode bool
		httpAddr  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio or HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(*logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			settings, err := service.LoadSettings(*configPath)
			if err != nil {
				return err
			}
			if httpAddr == "" {
				httpAddr = settings.HTTPAddr
			}

			serviceInstance := service.NewService(logger.Named("service"), settings, http.DefaultClient)
			s := mcp.NewServer(logger.Named("mcp"), serviceInstance)

			if httpAddr != "" && !stdioMode {
				return serveHTTP(cmd.Context(), logger, s, serviceInstance, httpAddr)
			}

			logger.Info("starting MCP server in stdio mode")
			return server.ServeStdio(s)
		},
	}
	cmd.Flags().BoolVar(&stdioMode, "stdio", false, "Run in stdio mode even if an HTTP address is configured")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP server address (e.g., ':8080')")
	return cmd
}

func serveHTTP(ctx context.Context, logger *zap.Logger, s *server.MCPServer, serviceInstance service.Service, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := mcp.NewHTTPServer(logger.Named("http"), s, serviceInstance, mcp.DefaultEndpoint, nil)
	defer handler.Close()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		// warm the snapshot, failures are visible as error state
		_, _ = serviceInstance.Retrieve(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting MCP server", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func fetchCmd(configPath, logLevel *string) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one ingestion pass and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(*logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			settings, err := service.LoadSettings(*configPath)
			if err != nil {
				return err
			}
			serviceInstance := service.NewService(logger.Named("service"), settings, http.DefaultClient)
			snapshot, err := serviceInstance.Retrieve(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(snapshot)
			case "markdown":
				for _, id := range snapshot.SectionIDs(serviceInstance.Sections()) {
					markdown, err := sanitize.Markdown(snapshot.Content[id])
					if err != nil {
						return fmt.Errorf("section %s: %w", id, err)
					}
					fmt.Fprintf(out, "## %s\n\n%s\n\n", id, markdown)
				}
				return nil
			default:
				return fmt.Errorf("unknown format %q (json, markdown)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, markdown)")
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	config := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	// stdout carries the MCP stdio protocol
	config.OutputPaths = []string{"stderr"}
	return config.Build()
}
