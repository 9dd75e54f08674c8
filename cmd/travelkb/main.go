// Package main provides the travelkb binary: crawl, schedule, search and index
// maintenance for the travel knowledge base.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tky-kevin/travelkb"
	"github.com/tky-kevin/travelkb/database"
	"github.com/tky-kevin/travelkb/helper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "travelkb",
		Short: "Travel article knowledge base",
		Long: `travelkb crawls travel blog sitemaps, embeds article chunks into pgvector
and answers similarity queries used to ground a travel assistant.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides config")

	cmd.AddCommand(crawlCmd(flags))
	cmd.AddCommand(scheduleCmd(flags))
	cmd.AddCommand(searchCmd(flags))
	cmd.AddCommand(indexCmd(flags))
	cmd.AddCommand(statusCmd(flags))

	return cmd
}

// open loads the configuration and builds the knowledge base.
func open(ctx context.Context, flags *globalFlags, opts ...travelkb.Option) (*travelkb.KnowledgeBase, error) {
	config, err := travelkb.LoadConfig(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		config.LogLevel = flags.logLevel
	}

	logger := helper.NewLogger(os.Stderr, helper.ParseLogLevel(config.LogLevel))
	slog.SetDefault(logger)

	opts = append([]travelkb.Option{travelkb.WithLogger(logger)}, opts...)
	return travelkb.NewKnowledgeBase(ctx, config, opts...)
}

func crawlCmd(flags *globalFlags) *cobra.Command {
	var (
		target string
		budget int
		clean  bool
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl a sitemap or article and index new content",
		Long: `Crawls a sitemap (freshest articles first) or a single article page and
indexes articles that are not yet in the knowledge base.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := open(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer kb.Close()

			if target == "" {
				target = kb.Config.Crawl.TargetURL
			}
			if !cmd.Flags().Changed("max") {
				budget = kb.Config.Crawl.MaxNewArticles
			}

			if clean {
				deleted, err := kb.Clean(cmd.Context())
				if err != nil {
					return err
				}
				cmd.Printf("Deleted %d chunks.\n", deleted)
			}

			result := kb.CrawlAndIndex(cmd.Context(), target, budget)
			cmd.Printf("%s: %s (%s)\n", result.Target, result.Message, result.Duration.Round(time.Millisecond))
			if !result.Success {
				return errors.New("crawl failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "url", "", "Sitemap or article URL (default from config)")
	cmd.Flags().IntVar(&budget, "max", 10, "Maximum new articles to index, 0 for unlimited")
	cmd.Flags().BoolVar(&clean, "clean", false, "Delete all indexed chunks before crawling")

	return cmd
}

func scheduleCmd(flags *globalFlags) *cobra.Command {
	var (
		metricsAddr string
		runNow      bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Crawl the scheduled target periodically",
		Long: `Runs a crawl pass over the scheduled target every crawl interval (24h by default)
and serves Prometheus metrics until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			registry := prometheus.NewRegistry()

			kb, err := open(ctx, flags, travelkb.WithRegisterer(registry))
			if err != nil {
				return err
			}
			defer kb.Close()

			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = kb.Config.MetricsAddr
			}

			s, err := kb.NewScheduler()
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("Metrics server failed", "addr", metricsAddr, "error", err)
				}
			}()

			if err := s.Start(ctx); err != nil {
				return err
			}
			if runNow {
				s.RunNow(ctx)
			}
			slog.Info("Next scheduled crawl", "at", s.Next().Format(time.RFC3339))

			<-ctx.Done()

			<-s.Stop().Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address of the Prometheus metrics endpoint")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Run one pass immediately after start")

	return cmd
}

func searchCmd(flags *globalFlags) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := open(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer kb.Close()

			results, err := kb.Retrieve(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			if asJSON {
				data, err := json.MarshalIndent(results, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal results: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}

			if len(results) == 0 {
				cmd.Println("No results found.")
				return nil
			}
			for i, r := range results {
				cmd.Printf("  [%d] %s (%.3f)\n", i+1, r.Title, r.Score)
				cmd.Printf("      %s\n", r.URL)
				cmd.Printf("      %s\n\n", snippet(r.Content, 160))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "k", 5, "Maximum number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")

	return cmd
}

func indexCmd(flags *globalFlags) *cobra.Command {
	var (
		indexType      string
		m              int
		efConstruction int
		lists          int
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := open(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer kb.Close()

			params := map[string]interface{}{
				"m":               m,
				"ef_construction": efConstruction,
				"lists":           lists,
			}
			if err := kb.ChangeIndexType(cmd.Context(), indexType, params); err != nil {
				return err
			}
			cmd.Printf("Vector index rebuilt as %s.\n", indexType)
			return nil
		},
	}

	cmd.Flags().StringVar(&indexType, "type", database.IndexTypeHNSW, "Index type (hnsw, ivfflat)")
	cmd.Flags().IntVar(&m, "m", 16, "HNSW max connections per layer")
	cmd.Flags().IntVar(&efConstruction, "ef-construction", 64, "HNSW candidate list size during build")
	cmd.Flags().IntVar(&lists, "lists", 100, "IVFFlat number of lists")

	return cmd
}

func statusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show knowledge base statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := open(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer kb.Close()

			count, err := kb.Count(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Store:    %s\n", kb.Config.Store)
			cmd.Printf("Embedder: %s (%d dimensions)\n", kb.Embedder.Name(), kb.Embedder.Dimension())
			cmd.Printf("Chunks:   %d\n", count)
			return nil
		},
	}
}

func snippet(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}
