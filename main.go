package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/edgemock/edgemock/engine"
	"github.com/edgemock/edgemock/importer"
)

const defaultListen = ":2080"

// Config is the optional YAML server configuration. Flags override it.
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"logLevel"`

	// APIs are OpenAPI documents imported and deployed at startup.
	APIs []APIConfig `yaml:"apis"`
}

type APIConfig struct {
	Name    string `yaml:"name"`
	OpenAPI string `yaml:"openapi"`
	Stage   string `yaml:"stage"`
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{Listen: defaultListen, LogLevel: "info"}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	return cfg, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func main() {
	root := &cobra.Command{
		Use:           "edgemock",
		Short:         "API gateway emulator: routing, validation, templates and usage plans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newImportCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var (
		configPath string
		listen     string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve invocation traffic for the configured APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}

			metrics := engine.NewMetrics(prometheus.DefaultRegisterer)
			eng := engine.New(engine.WithLogger(logger), engine.WithMetrics(metrics))

			for _, apiCfg := range cfg.APIs {
				data, err := os.ReadFile(apiCfg.OpenAPI)
				if err != nil {
					return err
				}
				api, err := importer.Import(eng, data, apiCfg.Name)
				if err != nil {
					return fmt.Errorf("importing %s: %w", apiCfg.OpenAPI, err)
				}
				stage := apiCfg.Stage
				if stage == "" {
					stage = "test"
				}
				if _, err := eng.CreateDeployment(api.ID, stage, "startup"); err != nil {
					return err
				}
				logger.Info("imported api",
					"api_id", api.ID,
					"name", api.Name,
					"stage", stage,
					"source", apiCfg.OpenAPI,
				)
			}

			mux := http.NewServeMux()
			mux.Handle("/restapis/", NewInvocationServer(eng, logger))
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})

			server := &http.Server{
				Addr:              cfg.Listen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			logger.Info("listening", "addr", cfg.Listen)
			return server.ListenAndServe()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	return cmd
}

func newImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <openapi-file>",
		Short: "Validate an OpenAPI document and print the API it would create",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			logger, err := newLogger("warn")
			if err != nil {
				return err
			}
			eng := engine.New(engine.WithLogger(logger))
			api, err := importer.Import(eng, data, "")
			if err != nil {
				return err
			}

			methods := 0
			for _, res := range api.Resources {
				methods += len(res.Methods)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d resources, %d methods, %d models\n",
				api.Name, len(api.Resources), methods, len(api.Models))
			return nil
		},
	}
	return cmd
}
