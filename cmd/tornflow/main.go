package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tornflow/tornflow/internal/scheduler"
	"github.com/tornflow/tornflow/pkg/api"
	"github.com/tornflow/tornflow/pkg/config"
	"github.com/tornflow/tornflow/pkg/logger"
	"github.com/tornflow/tornflow/pkg/metrics"
	"github.com/tornflow/tornflow/pkg/processor"
	"github.com/tornflow/tornflow/pkg/schema"
	"github.com/tornflow/tornflow/pkg/sink"
)

var version = "0.1.0"

type cliFlags struct {
	configPath      string
	endpointsPath   string
	credentialsPath string
	projectID       string
	gcpCredentials  string
	timestampURL    string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	flags := &cliFlags{}

	root := &cobra.Command{
		Use:   "tornflow",
		Short: "Game API to BigQuery ingestion pipeline",
		Long: `tornflow polls configured game API endpoints on their schedules,
flattens the responses into typed records and lands them in BigQuery
with schema evolution and append/replace write semantics.`,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "runtime config YAML (optional)")
	root.PersistentFlags().StringVar(&flags.endpointsPath, "endpoints", "endpoints.json", "endpoint descriptor file")
	root.PersistentFlags().StringVar(&flags.credentialsPath, "credentials", "credentials.json", "API credential file")
	root.PersistentFlags().StringVar(&flags.projectID, "project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "GCP project id")
	root.PersistentFlags().StringVar(&flags.gcpCredentials, "gcp-credentials", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), "GCP service account key file")
	root.PersistentFlags().StringVar(&flags.timestampURL, "timestamp-url", "", "dedicated server-time endpoint URL (optional)")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newRunOnceCmd(flags))
	root.AddCommand(newValidateCmd(flags))
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app, err := buildApp(ctx, flags)
			if err != nil {
				return err
			}
			defer app.close()

			sched := scheduler.New(app.cfg.Scheduler.Workers, logger.Get())
			for _, p := range app.processors {
				sched.Add(p)
			}

			if app.cfg.MetricsAddr != "" {
				go serveMetrics(app.cfg.MetricsAddr)
			}

			sched.Start()
			<-ctx.Done()
			logger.Get().Info("shutdown signal received")
			sched.Stop()
			return nil
		},
	}
}

func newRunOnceCmd(flags *cliFlags) *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Run one cycle for every endpoint (or one endpoint) and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app, err := buildApp(ctx, flags)
			if err != nil {
				return err
			}
			defer app.close()

			var failed int
			for _, p := range app.processors {
				if only != "" && p.Endpoint().Name != only {
					continue
				}
				if err := p.Run(ctx); err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d endpoint cycle(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&only, "endpoint", "", "run only the named endpoint")
	return cmd
}

func newValidateCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files and handler wiring",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadRuntimeConfig(flags.configPath); err != nil {
				return err
			}
			endpoints, err := config.LoadEndpoints(flags.endpointsPath)
			if err != nil {
				return err
			}
			if _, err := config.LoadCredentials(flags.credentialsPath); err != nil {
				return err
			}
			for _, e := range endpoints {
				if _, err := processor.Lookup(e.Kind); err != nil {
					return fmt.Errorf("endpoint %s: %w", e.Name, err)
				}
			}
			fmt.Printf("configuration valid: %d endpoint(s), kinds %v\n", len(endpoints), processor.Kinds())
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tornflow %s\n", version)
		},
	}
}

// app bundles the wired pipeline for the run commands
type app struct {
	cfg        *config.RuntimeConfig
	sink       *sink.Sink
	processors []*processor.Processor
}

func (a *app) close() {
	if a.sink != nil {
		_ = a.sink.Close()
	}
	_ = logger.Sync()
}

func buildApp(ctx context.Context, flags *cliFlags) (*app, error) {
	cfg, err := config.LoadRuntimeConfig(flags.configPath)
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	}); err != nil {
		return nil, err
	}
	log := logger.Get()

	endpoints, err := config.LoadEndpoints(flags.endpointsPath)
	if err != nil {
		return nil, err
	}
	creds, err := config.LoadCredentials(flags.credentialsPath)
	if err != nil {
		return nil, err
	}

	if flags.projectID == "" {
		return nil, fmt.Errorf("GCP project id required (--project or GOOGLE_CLOUD_PROJECT)")
	}

	store, err := sink.New(ctx, sink.Config{
		ProjectID:       flags.projectID,
		CredentialsPath: flags.gcpCredentials,
		Location:        cfg.Sink.Location,
		JobTimeout:      cfg.Sink.JobTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	clientCfg := api.DefaultClientConfig()
	clientCfg.ConnectTimeout = cfg.API.ConnectTimeout
	clientCfg.ReadTimeout = cfg.API.ReadTimeout
	clientCfg.MinRequestInterval = cfg.API.MinRequestInterval
	clientCfg.MaxPages = cfg.API.MaxPages

	retry := api.DefaultRetryPolicy().WithMaxAttempts(cfg.API.MaxRetries)
	client := api.NewClient(clientCfg, creds, retry, log)

	var ts processor.TimeSource = processor.LocalTimeSource{}
	if flags.timestampURL != "" {
		tsEndpoint := &config.Endpoint{
			Name:        "timestamp",
			Kind:        "timestamp",
			URL:         flags.timestampURL,
			Table:       "unused.unused.unused",
			Frequency:   "PT1M",
			StorageMode: config.StorageModeReplace,
		}
		ts = processor.NewAPITimeSource(client, tsEndpoint, log)
	}

	validator := schema.NewValidator(schema.AbortBatch, log)

	processors := make([]*processor.Processor, 0, len(endpoints))
	for _, e := range endpoints {
		p, err := processor.New(e, client, store, validator, ts, log)
		if err != nil {
			return nil, err
		}
		processors = append(processors, p)
	}

	return &app{cfg: cfg, sink: store, processors: processors}, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Get().Info("serving metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Get().Error("metrics server failed", zap.Error(err))
	}
}
