package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/1enterprisesight/agent-profiler/internal/agent"
	"github.com/1enterprisesight/agent-profiler/internal/agents"
	"github.com/1enterprisesight/agent-profiler/internal/config"
	"github.com/1enterprisesight/agent-profiler/internal/dataset"
	"github.com/1enterprisesight/agent-profiler/internal/event"
	"github.com/1enterprisesight/agent-profiler/internal/orchestrator"
	"github.com/1enterprisesight/agent-profiler/internal/provider"
	"github.com/1enterprisesight/agent-profiler/internal/retention"
	"github.com/1enterprisesight/agent-profiler/internal/server"
	"github.com/1enterprisesight/agent-profiler/internal/state/store"
	"github.com/1enterprisesight/agent-profiler/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	log.Println(version.Get())

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	events := store.NewEventStore(db)
	messages := store.NewMessageStore(db)
	results := store.NewResultStore(db)
	llmlog := store.NewLLMLog(db)
	records := dataset.NewRecordStore(db)

	bus, err := newBus(cfg)
	if err != nil {
		return err
	}
	emitter := event.NewEmitter(events, bus)

	providerName, providerCfg, err := cfg.OrchestratorProvider()
	if err != nil {
		return err
	}
	llm, err := provider.FromSettings(provider.Settings{
		ID:      providerName,
		BaseURL: providerCfg.BaseURL,
		APIKey:  providerCfg.APIKey,
		API:     providerCfg.API,
		Model:   providerCfg.Model,
	})
	if err != nil {
		return err
	}

	registry := agent.NewRegistry()
	registry.Register(agents.NewDataDiscovery(records))
	registry.Register(agents.NewQuantitative(records))
	registry.Register(agents.NewSegmentation(records))
	registry.Register(agents.NewPatternRecognition(records))
	registry.Register(agents.NewBenchmark(records))
	registry.Register(agents.NewRecommendation(llm, providerCfg.Model))

	engine := orchestrator.NewEngine(llm, registry, emitter, messages, results, llmlog, records, orchestrator.Options{
		Model:        providerCfg.Model,
		HistoryLimit: cfg.Orchestrator.HistoryLimit,
		StepTimeout:  cfg.Orchestrator.StepTimeout,
		MaxPlanSteps: cfg.Orchestrator.MaxPlanSteps,
	})

	if cfg.Retention.Schedule != "" {
		job := retention.New(cfg.Retention.Schedule, cfg.Retention.MaxDays)
		job.Add("events", events)
		job.Add("messages", messages)
		job.Add("llm_log", llmlog)
		job.Add("results", results)
		if err := job.Start(); err != nil {
			return fmt.Errorf("starting retention job: %w", err)
		}
		defer job.Stop()
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(engine, events, messages, bus),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server: listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Printf("server: received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func openStore(cfg *config.Config) (*store.DB, error) {
	if cfg.Store.Driver == "postgres" {
		return store.OpenPostgres(cfg.Store.DSN)
	}
	dataDir := cfg.Store.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	return store.Open(dataDir)
}

func newBus(cfg *config.Config) (*event.Bus, error) {
	if cfg.Stream.RedisAddr == "" {
		return event.NewBus(), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Stream.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Stream.RedisAddr, err)
	}
	log.Printf("stream: publishing events via redis at %s", cfg.Stream.RedisAddr)
	return event.NewRedisBus(rdb, cfg.Stream.ChannelPrefix), nil
}
