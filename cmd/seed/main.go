package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"license-server/internal/config"
	"license-server/internal/domain/model"
	pg "license-server/internal/infra/db/postgres"
	"license-server/internal/infra/logging"
	"license-server/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	licRepo := pg.NewPostgresLicenseRepo(pool)
	recRepo := pg.NewPostgresValidationRecordRepo(pool)
	cliRepo := pg.NewPostgresClientRepo(pool)
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	licUC := usecase.NewLicenseAdminUseCase(licRepo, recRepo, cliRepo, pg.NewTxManager(pool), logger)
	cliUC := usecase.NewClientUseCase(cliRepo)

	// If clients already exist, do nothing
	clients, err := cliUC.List(ctx, 0, 1)
	if err != nil {
		log.Fatalf("list clients: %v", err)
	}
	if len(clients) > 0 {
		fmt.Println("clients already present. No changes.")
		return
	}

	seed := []struct {
		Name  string
		Email string
		Plan  model.LicensePlan
		Days  int
		Trial bool
	}{
		{"Acme Retail Ltda", "ops@acme.example", model.PlanStarter, 30, true},
		{"Borealis Foods", "it@borealis.example", model.PlanProfessional, 365, false},
		{"Cantina do Porto", "admin@cantina.example", model.PlanEnterprise, 0, false},
	}

	for _, s := range seed {
		c, err := cliUC.Create(ctx, s.Name, s.Email, "")
		if err != nil {
			log.Fatalf("create client %q: %v", s.Name, err)
		}
		var expiresAt *time.Time
		if s.Days > 0 {
			t := time.Now().UTC().AddDate(0, 0, s.Days)
			expiresAt = &t
		}
		lic, err := licUC.CreateLicense(ctx, c.ID, s.Plan, expiresAt, s.Trial, "seeded")
		if err != nil {
			log.Fatalf("create license for %q: %v", s.Name, err)
		}
		fmt.Printf("seeded: %s plan=%s key=%s\n", c.Name, lic.Plan, lic.LicenseKey)
	}

	fmt.Println("✅ Seeding complete.")
}
