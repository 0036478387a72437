package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"acsmulungu.org/internal/access"
	"acsmulungu.org/internal/config"
	"acsmulungu.org/internal/httpapi"
	"acsmulungu.org/internal/indicator"
	"acsmulungu.org/internal/member"
	"acsmulungu.org/internal/obs"
	"acsmulungu.org/internal/presence"
	memstore "acsmulungu.org/internal/store/memory"
	mongostore "acsmulungu.org/internal/store/mongo"
	pgstore "acsmulungu.org/internal/store/pg"
	redisstore "acsmulungu.org/internal/store/redis"
	"acsmulungu.org/internal/stream"
	"acsmulungu.org/internal/treasury"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// Local development keys live in .env; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var (
		members   member.Store
		stats     member.StatsStore
		scores    indicator.Store
		ledger    treasury.Store
		probe     httpapi.ReadyProbe
		shutdowns []func()
	)

	switch cfg.Store {
	case config.StorePostgres:
		store, err := pgstore.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		shutdowns = append(shutdowns, func() { _ = store.Close() })
		members, stats, scores, ledger = store, store, store, store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	case config.StoreMongo:
		store, err := mongostore.Open(ctx, mongostore.Config{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDB,
		})
		if err != nil {
			log.Fatalf("open mongo: %v", err)
		}
		shutdowns = append(shutdowns, func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			_ = store.Close(closeCtx)
		})
		members, stats, scores, ledger = store, store, store, store
		probe = httpapi.ReadyProbe{Ping: store.Ping}
	default:
		store := memstore.New()
		members, stats, scores, ledger = store, store, store, store
	}

	// Redis, when configured, takes over presence state and the portal
	// counter while delegating everything else to the primary store.
	if cfg.RedisAddr != "" {
		store, err := redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, members)
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		shutdowns = append(shutdowns, func() { _ = store.Close() })
		members, stats = store, store
	}

	changes := stream.New()
	deps := httpapi.Deps{
		Directory:      member.NewDirectory(members, nil),
		Presence:       presence.NewTracker(members, nil),
		Access:         access.NewCounter(members, stats, nil),
		Scores:         indicator.NewEngine(scores, cfg.Roster, nil),
		Treasury:       treasury.NewService(ledger, nil),
		Stream:         changes,
		Roster:         cfg.Roster,
		SharedPassword: cfg.SharedPassword,
		TokenTTL:       cfg.TokenTTL,
	}

	api := httpapi.New(probe, version, deps)
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // SSE endpoints hold the response open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting acs-portal-api %s (%s store) on %s", version, cfg.Store, cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	for _, fn := range shutdowns {
		fn()
	}
	log.Println("Stopped")
}
