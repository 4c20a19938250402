package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/seo-optimizer/competitive-insights/api"
	"github.com/seo-optimizer/competitive-insights/domain"
	"github.com/seo-optimizer/competitive-insights/logging"
	"github.com/seo-optimizer/competitive-insights/middleware"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "insights",
	Short: "Competitive insights for two websites",
	Long: `insights analyzes a website and a competitor across performance, SEO,
content, technology, security, traffic, backlinks and publishing activity,
then reports where each one leads.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, logCloser, err := loadConfig(configPath, verbose)
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, logCloser)
		if err != nil {
			logCloser.Close()
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				fmt.Fprintln(os.Stderr, "shutdown:", err)
			}
		}()

		requests, err := logging.NewStatistics(cfg.Stats.DataDir, cfg.Server.DevMode)
		if err != nil {
			return err
		}
		defer requests.Save()

		gin.SetMode(cfg.Server.Mode)
		router := api.NewRouter(api.Deps{
			Comparer:  a.comparator,
			Traffic:   a.traffic,
			Content:   a.content,
			Accounts:  a.accounts,
			Reports:   a.store,
			ReportTTL: cfg.Store.ReportTTL,
			Counters:  a.counters,
			Requests:  requests,
		}, middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))

		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Msgf("Server starting on http://localhost:%d", cfg.Server.Port)
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to start server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		log.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare [YOUR_SITE] [COMPETITOR_SITE]",
	Short: "Compare two websites and print the report",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		format, _ := cmd.Flags().GetString("format")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, logCloser, err := loadConfig(configPath, verbose)
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, logCloser)
		if err != nil {
			logCloser.Close()
			return err
		}
		defer a.Close()

		report, err := a.comparator.CompareWebsites(ctx, args[0], args[1], email)
		if err != nil {
			return fmt.Errorf("comparison failed: %w", err)
		}
		return render(cmd.OutOrStdout(), report, format)
	},
}

var contentCmd = &cobra.Command{
	Use:   "content [DOMAIN]",
	Short: "Inspect a website's feeds, sitemaps and publishing activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		site, err := domain.Normalize(args[0])
		if err != nil {
			return fmt.Errorf("%q: %w", args[0], err)
		}

		cfg, logCloser, err := loadConfig(configPath, verbose)
		if err != nil {
			return err
		}
		defer logCloser.Close()

		a, err := newApp(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		return render(cmd.OutOrStdout(), a.content.GetContentUpdates(cmd.Context(), site), format)
	},
}

// render writes v as indented JSON or as YAML with the same field names
func render(w io.Writer, v interface{}, format string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	switch format {
	case "", "json":
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q, want json or yaml", format)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging to the console")

	compareCmd.Flags().String("email", "", "Account email used for first-party analytics")
	compareCmd.Flags().String("format", "json", "Output format: json or yaml")
	contentCmd.Flags().String("format", "json", "Output format: json or yaml")

	rootCmd.AddCommand(serveCmd, compareCmd, contentCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
