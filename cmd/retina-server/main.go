package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrypster/retina/internal/config"
	"github.com/scrypster/retina/internal/embedding"
	"github.com/scrypster/retina/internal/enrichment"
	"github.com/scrypster/retina/internal/plugins"
	"github.com/scrypster/retina/internal/storage"
	"github.com/scrypster/retina/internal/storage/postgres"
	"github.com/scrypster/retina/internal/storage/sqlite"
	"github.com/scrypster/retina/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ~/.retina/config.yaml)")
	migrationsDir := flag.String("migrations", "migrations", "Path to SQL migrations directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.ResolvedBaseDir(), 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := sqlite.NewStore(cfg.DatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(*migrationsDir); err == nil {
		if err := store.RunMigrations(*migrationsDir); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bootstrap(ctx, cfg, store); err != nil {
		log.Fatalf("Failed to bootstrap default library: %v", err)
	}

	// The sqlite store doubles as the text and vector index; a Postgres DSN
	// moves only the vector side table out.
	var vectorIdx storage.VectorIndex = store
	if cfg.IsPostgres() {
		pg, err := postgres.NewVectorIndex(cfg.DatabaseDSN(), cfg.Embedding.NumDim)
		if err != nil {
			log.Fatalf("Failed to initialize vector index: %v", err)
		}
		defer pg.Close()
		vectorIdx = pg
	}

	embedder := embedding.NewService(cfg.Embedding)
	dispatcher := plugins.NewDispatcher(cfg.OCR.Concurrency)
	svc := enrichment.NewService(store, store, embedder, store, vectorIdx, dispatcher)

	go runSweep(ctx, store, svc)

	log.Printf("retina: serving library %q from %s", cfg.Storage.DefaultLibrary, cfg.ResolvedBaseDir())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
}

// sweepInterval is how often the background pass looks for entities with
// unfinished plugins.
const sweepInterval = time.Minute

// runSweep periodically walks recent entities and runs any plugins still
// pending for them. Plugin failures stay pending and are retried on the
// next pass.
func runSweep(ctx context.Context, store *sqlite.Store, svc *enrichment.Service) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		entities, err := store.ListEntities(ctx, storage.ListEntitiesOptions{})
		if err != nil {
			log.Printf("sweep: failed to list entities: %v", err)
			continue
		}

		for _, e := range entities {
			if err := svc.ProcessEntity(ctx, e.ID); err != nil {
				log.Printf("sweep: failed to process entity %d: %v", e.ID, err)
			}
		}
	}
}

// bootstrap creates the default library and binds the configured default
// plugins on first run. Every step is idempotent so restarts are safe.
func bootstrap(ctx context.Context, cfg *config.Config, store *sqlite.Store) error {
	lib, err := store.GetLibraryByName(ctx, cfg.Storage.DefaultLibrary)
	if errors.Is(err, storage.ErrNotFound) {
		lib, err = store.CreateLibrary(ctx, types.NewLibrary{Name: cfg.Storage.DefaultLibrary})
	}
	if err != nil {
		return err
	}

	for _, name := range cfg.Storage.DefaultPlugins {
		plugin, err := store.GetPluginByName(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			plugin, err = store.CreatePlugin(ctx, types.NewPlugin{
				Name:       name,
				WebhookURL: defaultWebhookURL(cfg, name),
			})
		}
		if err != nil {
			return err
		}

		if err := store.AddPluginToLibrary(ctx, lib.ID, plugin.ID); err != nil {
			return err
		}
	}

	return nil
}

// defaultWebhookURL maps the built-in plugin names onto their configured
// endpoints.
func defaultWebhookURL(cfg *config.Config, name string) string {
	switch name {
	case "builtin_ocr":
		return cfg.OCR.Endpoint
	case "builtin_vlm":
		return cfg.VLM.Endpoint
	default:
		return cfg.OCR.Endpoint
	}
}
