// Command seed provisions a fresh deployment: the first admin account, the
// default treasury summary and a zeroed score record per roster team. Safe to
// re-run; existing records are left untouched.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"acsmulungu.org/internal/config"
	"acsmulungu.org/internal/indicator"
	"acsmulungu.org/internal/member"
	mongostore "acsmulungu.org/internal/store/mongo"
	pgstore "acsmulungu.org/internal/store/pg"
	"acsmulungu.org/internal/treasury"
)

func main() {
	log.SetFlags(0)
	var (
		adminName = flag.String("admin-name", "Administrador", "Full name of the bootstrap admin")
		adminCPF  = flag.String("admin-cpf", "", "CPF of the bootstrap admin (required)")
		adminTeam = flag.String("admin-team", "", "Team of the bootstrap admin (defaults to first roster unit)")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *adminCPF == "" {
		log.Fatal("missing -admin-cpf")
	}
	team := *adminTeam
	if team == "" && len(cfg.Roster) > 0 {
		team = cfg.Roster[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		members member.Store
		scores  indicator.Store
		ledger  treasury.Store
	)
	switch cfg.Store {
	case config.StorePostgres:
		store, err := pgstore.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer store.Close()
		members, scores, ledger = store, store, store
	case config.StoreMongo:
		store, err := mongostore.Open(ctx, mongostore.Config{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDB,
		})
		if err != nil {
			log.Fatalf("open mongo: %v", err)
		}
		defer store.Close(context.Background())
		members, scores, ledger = store, store, store
	default:
		log.Fatalf("seed requires a persistent store, got %q", cfg.Store)
	}

	directory := member.NewDirectory(members, nil)
	if _, err := members.FindByCPF(ctx, member.NormalizeCPF(*adminCPF)); err == nil {
		log.Printf("admin with CPF %s already exists, skipping", *adminCPF)
	} else if errors.Is(err, member.ErrNotFound) {
		m, err := directory.Create(ctx, member.Member{
			FullName: *adminName,
			CPF:      *adminCPF,
			Team:     team,
			Role:     member.RoleAdmin,
			Status:   member.StatusActive,
		})
		if err != nil {
			log.Fatalf("create admin: %v", err)
		}
		log.Printf("created admin %s (%s)", m.FullName, m.ID)
	} else {
		log.Fatalf("lookup admin: %v", err)
	}

	engine := indicator.NewEngine(scores, cfg.Roster, nil)
	for _, unit := range cfg.Roster {
		if _, err := scores.GetTeamScore(ctx, unit); err == nil {
			continue
		} else if !errors.Is(err, indicator.ErrNotFound) {
			log.Fatalf("lookup scores for %s: %v", unit, err)
		}
		for _, cat := range indicator.Categories {
			if _, err := engine.SetTeamScore(ctx, unit, cat, 1, 0); err != nil {
				log.Fatalf("seed scores for %s: %v", unit, err)
			}
		}
		log.Printf("seeded zeroed scores for %s", unit)
	}

	// Summary() seeds the default document when none exists.
	svc := treasury.NewService(ledger, nil)
	sum, err := svc.Summary(ctx)
	if err != nil {
		log.Fatalf("treasury summary: %v", err)
	}
	log.Printf("treasury summary ready (monthly fee %.0f)", sum.MonthlyFee)
}
