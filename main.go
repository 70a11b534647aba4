package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tinfoilsh/reasoning-search/api"
	"github.com/tinfoilsh/reasoning-search/config"
	"github.com/tinfoilsh/reasoning-search/console"
	"github.com/tinfoilsh/reasoning-search/history"
	"github.com/tinfoilsh/reasoning-search/llm"
	"github.com/tinfoilsh/reasoning-search/pipeline"
	"github.com/tinfoilsh/reasoning-search/search"
)

var (
	verbose bool
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reasoning-search",
		Short: "Search-grounded answers split into reasoning and final answer",
		Long: `Runs a web search, asks a chat model to answer from the results and
splits the reply into its step-by-step reasoning and its final answer.

Without a subcommand the HTTP server is started.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables override it)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	})
	rootCmd.AddCommand(newAskCommand())
	return rootCmd
}

func newAskCommand() *cobra.Command {
	var provider, model string
	var noStream bool

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer a single query in the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			req := &pipeline.Request{
				Query:    strings.Join(args, " "),
				Provider: provider,
				Model:    model,
				Stream:   !noStream,
			}
			return ask(ctx, a.pipeline, req, console.NewPrinter(cmd.OutOrStdout(), 0))
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "chat backend (openai, deepseek, tinfoil)")
	cmd.Flags().StringVar(&model, "model", "", "model override for the chat backend")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "print the answer once it is complete")
	return cmd
}

// ask runs req and renders it with printer
func ask(ctx context.Context, runner api.Runner, req *pipeline.Request, printer *console.Printer) error {
	var emitter pipeline.EventEmitter
	if req.Stream {
		emitter = printer
	}

	pctx, err := runner.Execute(ctx, req, emitter)
	if pctx != nil && pctx.Cancel != nil {
		defer pctx.Cancel()
	}
	if err != nil {
		return err
	}
	if !req.Stream {
		printer.PrintResult(pctx.SearchResults, pctx.ResponderResult)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Load(), nil
	}
	return config.LoadFile(cfgFile)
}

func setupLogging(cfg *config.Config) {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{})
	}
}

// app holds the wired components shared by serve and ask
type app struct {
	searcher search.Provider
	cache    *search.CachedProvider
	clients  *llm.Clients
	store    *history.SQLiteStore
	pipeline *pipeline.Pipeline
}

func newApp(cfg *config.Config) (*app, error) {
	provider, err := search.NewProvider(search.Config{
		TavilyAPIKey:     cfg.TavilyAPIKey,
		TavilyBaseURL:    cfg.TavilyBaseURL,
		ExaAPIKey:        cfg.ExaAPIKey,
		AllowRequestKeys: cfg.AllowRequestKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create search provider: %w", err)
	}

	clients, err := llm.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{clients: clients}
	a.cache = search.NewCachedProvider(search.NewLimitedProvider(provider, cfg.SearchRPS, 1), cfg.RedisURL, cfg.SearchCacheTTL)
	a.searcher = a.cache

	// A nil *SQLiteStore must not reach RecordStage as a non-nil interface
	var saver pipeline.TurnSaver
	if cfg.HistoryDBPath != "" {
		a.store, err = history.OpenSQLite(cfg.HistoryDBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		saver = a.store
	}

	a.pipeline = pipeline.NewPipeline([]pipeline.Stage{
		&pipeline.ValidateStage{Responders: clients},
		&pipeline.SearchStage{Provider: a.searcher},
		&pipeline.BuildMessagesStage{Builder: llm.NewMessageBuilder()},
		&pipeline.ResponderStage{},
		&pipeline.RecordStage{Store: saver},
	}, config.RequestTimeout)

	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	reloads := make(chan *config.Config, 1)
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.Watch(cfgFile, func(updated *config.Config) {
			select {
			case reloads <- updated:
			default:
				log.Warn("config reload dropped, previous one still pending")
			}
		})
	} else {
		cfg = config.Load()
	}
	if err != nil {
		return err
	}
	setupLogging(cfg)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &api.Server{
		Cfg:      cfg,
		Pipeline: a.pipeline,
		Clients:  a.clients,
		Search:   a.searcher,
	}
	if a.store != nil {
		srv.History = a.store
	}

	stop := make(chan struct{})
	defer close(stop)
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if limiter != nil {
		go limiter.Run(stop)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Routes(limiter),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 0, // Disabled for streaming
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Infof("Starting on %s (search: %s, providers: %s, default: %s, history: %t, rate limit: %t)",
			cfg.ListenAddr, a.searcher.Name(), strings.Join(a.clients.Names(), ","), cfg.AskProvider,
			a.store != nil, limiter != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	for running := true; running; {
		select {
		case err := <-errChan:
			return err
		case updated := <-reloads:
			setupLogging(updated)
			if limiter != nil {
				limiter.SetLimit(updated.RateLimitRPS, updated.RateLimitBurst)
			}
		case <-sigChan:
			running = false
		}
	}

	log.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
