package main

import (
	"context"
	"log"

	"example/aegis-portal/app"
	"example/aegis-portal/app/config"
	"example/aegis-portal/app/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	st, err := postgres.Open(context.Background(), cfg.DB.DSN())
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()
	log.Println("Connected to Postgres")

	app.InitStripe(cfg)

	a := app.New(st, cfg)
	router := app.NewRouter(a)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
