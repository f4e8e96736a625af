package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lisahq/lisa/checkpoint"
	"github.com/lisahq/lisa/config"
	"github.com/lisahq/lisa/graph"
	"github.com/lisahq/lisa/llm"
	"github.com/lisahq/lisa/model"
	"github.com/lisahq/lisa/stream"
	"github.com/lisahq/lisa/workflow"
)

// App holds the wired application.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	runtime   *graph.Runtime
	workflows *workflow.Registry
	watcher   *workflow.Watcher
	metrics   *http.Server
	nc        *nats.Conn
	publisher *graph.Publisher
}

func newApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	models, err := buildModelRegistry(cfg)
	if err != nil {
		return nil, err
	}
	model.InitGlobal(models)

	adapter := llm.NewClient(models, llm.WithLogger(logger))

	app.workflows = workflow.NewRegistry()
	if dir := cfg.Workflow.OverlayDir; dir != "" {
		overlays, err := workflow.LoadOverlayDir(dir)
		if err != nil {
			return nil, fmt.Errorf("load workflow overlays: %w", err)
		}
		for _, overlay := range overlays {
			if err := app.workflows.ApplyOverlay(overlay); err != nil {
				return nil, fmt.Errorf("apply workflow overlay: %w", err)
			}
		}
		if cfg.Workflow.Watch {
			app.watcher, err = workflow.NewWatcher(app.workflows, workflow.WatcherConfig{
				Dir:    dir,
				Logger: logger,
			})
			if err != nil {
				return nil, fmt.Errorf("watch workflow overlays: %w", err)
			}
		}
	}

	store, err := app.buildCheckpointStore()
	if err != nil {
		return nil, err
	}

	opts := []graph.RuntimeOption{graph.WithLogger(logger)}
	if cfg.Metrics.Listen != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		opts = append(opts, graph.WithMetrics(graph.NewMetrics(registry)))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		app.metrics = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	}

	app.runtime = graph.NewRuntime(adapter, app.workflows, store, opts...)
	app.publisher = graph.NewPublisher(app.nc, logger)
	return app, nil
}

func buildModelRegistry(cfg *config.Config) (*model.Registry, error) {
	if cfg.Model.RegistryFile == "" {
		return model.NewDefaultRegistry(), nil
	}
	models, err := model.LoadFromFile(cfg.Model.RegistryFile)
	if err != nil {
		return nil, fmt.Errorf("load model registry: %w", err)
	}
	return models, nil
}

func (a *App) buildCheckpointStore() (checkpoint.Store, error) {
	if a.cfg.Checkpoint.Backend != "nats" {
		return checkpoint.NewMemoryStore(
			checkpoint.WithMaxThreads(a.cfg.Checkpoint.MaxThreads),
			checkpoint.WithThreadTTL(a.cfg.Checkpoint.TTL),
		), nil
	}

	nc, err := nats.Connect(a.cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	a.nc = nc

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var opts []checkpoint.NATSOption
	if a.cfg.Checkpoint.Bucket != "" {
		opts = append(opts, checkpoint.WithBucket(a.cfg.Checkpoint.Bucket))
	}
	if a.cfg.Checkpoint.TTL > 0 {
		opts = append(opts, checkpoint.WithBucketTTL(a.cfg.Checkpoint.TTL))
	}
	store, err := checkpoint.NewNATSStore(ctx, nc, opts...)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint store: %w", err)
	}
	return store, nil
}

// Run starts the background services and the interactive chat loop, stopping
// everything on interrupt or EOF.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(ctx)
		})
	}

	if a.metrics != nil {
		g.Go(func() error {
			a.logger.Info("Metrics listening", "addr", a.metrics.Addr)
			if err := a.metrics.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.metrics.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		return a.chatLoop(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// chatLoop reads user messages from stdin, one turn per line.
func (a *App) chatLoop(ctx context.Context) error {
	threadID := uuid.NewString()
	fmt.Printf("Lisa ready (thread %s). Type a message, /new for a fresh thread, /quit to exit.\n", threadID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/new":
			threadID = uuid.NewString()
			fmt.Printf("New thread %s\n", threadID)
			continue
		}

		input := graph.Input{Messages: []graph.InputMessage{{Role: "user", Content: line}}}
		emit := graph.Tee(a.printEvent, a.publisher.Emitter(threadID))
		_, err := a.runtime.Stream(ctx, threadID, input, emit)
		fmt.Println()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Printf("turn failed: %v\n", err)
		}
	}
}

// printEvent renders turn events for the terminal.
func (a *App) printEvent(e stream.Event) {
	switch e.Type {
	case stream.TypeTextDelta:
		fmt.Print(e.Delta)
	case stream.TypeProgress:
		if e.Progress != nil && e.Progress.CurrentTask != "" {
			fmt.Fprintf(os.Stderr, "\n[%s]\n", e.Progress.CurrentTask)
		}
	case stream.TypeArtifactUpdated:
		fmt.Fprintf(os.Stderr, "\n[artifact updated: %s]\n", e.Key)
	case stream.TypeError:
		if e.Error != nil {
			fmt.Fprintf(os.Stderr, "\n[%s: %s]\n", e.Error.Kind, e.Error.Message)
		}
	}
}

// Close releases app resources.
func (a *App) Close() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.nc != nil {
		a.nc.Close()
	}
}
