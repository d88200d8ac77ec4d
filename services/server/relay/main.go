package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rabble/nosflare-sub000/lib/archive"
	"github.com/rabble/nosflare-sub000/lib/broker"
	"github.com/rabble/nosflare-sub000/lib/config"
	"github.com/rabble/nosflare-sub000/lib/cursor"
	lib_nostr "github.com/rabble/nosflare-sub000/lib/handlers/nostr"
	"github.com/rabble/nosflare-sub000/lib/handlers/nostr/filter"
	"github.com/rabble/nosflare-sub000/lib/handlers/nostr/kind34236"
	"github.com/rabble/nosflare-sub000/lib/handlers/nostr/kind5"
	"github.com/rabble/nosflare-sub000/lib/handlers/nostr/universal"
	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/query"
	"github.com/rabble/nosflare-sub000/lib/stores/sqlite"
	"github.com/rabble/nosflare-sub000/lib/transports/websocket"
)

const shardCapacity = 10000

func main() {
	if err := config.InitConfig(); err != nil {
		logging.Fatalf("Failed to initialize config: %v", err)
	}
	if err := logging.InitLogger(); err != nil {
		logging.Fatalf("Failed to initialize logger: %v", err)
	}

	cfg := config.GetConfig()

	store, err := sqlite.InitStore(config.GetPath("relay"), cfg.RelaySettings)
	if err != nil {
		logging.Fatalf("Failed to initialize store: %v", err)
	}

	var blobs archive.BlobStore
	if cfg.Archive.BlobPath != "" {
		blobs, err = archive.OpenBoltBlobStore(cfg.Archive.BlobPath)
		if err != nil {
			logging.Fatalf("Failed to open blob store at %s: %v", cfg.Archive.BlobPath, err)
		}
	} else {
		blobs = archive.NewMemoryBlobStore()
	}

	worker := archive.NewWorker(store, blobs, cfg.Archive)

	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Archive.Enabled {
		go worker.Run(ctx)
	}

	shardBroker := broker.New(cfg.Shards, shardCapacity)
	router := broker.NewRouter(cfg.Shards, cfg.DefaultShard)
	codec := cursor.NewCodec(cfg.CursorSecret, cfg.CursorSecretPrevious)

	executor := &filter.Executor{
		Store:   store,
		Archive: archive.NewReader(blobs),
		Cursor:  codec,
		Caps:    query.CapsFromSettings(cfg.Query),
	}
	if cfg.Archive.Enabled {
		executor.ArchiveCutoff = func() int64 {
			return worker.Cutoff(time.Now())
		}
	}

	lib_nostr.RegisterHandler("universal", universal.BuildUniversalHandler(store))
	lib_nostr.RegisterHandler("kind/5", kind5.BuildKind5Handler(store))
	lib_nostr.RegisterHandler("kind/34236", kind34236.BuildKind34236Handler(store))
	lib_nostr.RegisterHandler("filter", filter.BuildFilterHandler(executor))

	app := websocket.BuildServer(store, shardBroker, router)

	go func() {
		if err := websocket.StartServer(app); err != nil {
			logging.Fatalf("Relay server stopped: %v", err)
		}
	}()

	logging.Infof("Relay listening on port %s with shards %v", cfg.Port, cfg.Shards)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Infof("Shutting down")

	// Stop the archive sweep between batches before tearing down the
	// stores it writes to.
	cancel()

	if err := app.Shutdown(); err != nil {
		logging.Errorf("Error shutting down HTTP server: %v", err)
	}
	shardBroker.Close()

	if err := blobs.Close(); err != nil {
		logging.Errorf("Error closing blob store: %v", err)
	}
	if err := store.Close(); err != nil {
		logging.Errorf("Error closing store: %v", err)
	}
}
