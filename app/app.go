package app

import (
	"example/aegis-portal/app/config"
	"example/aegis-portal/app/store"
	"example/aegis-portal/auth"
)

// App holds the constructed services behind the HTTP handlers. Everything is
// wired once at startup from an explicit config value.
type App struct {
	Store    store.Store
	Cfg      *config.Config
	Tokens   *TokenService
	Billing  *StripeService
	Sessions *auth.TokenManager
}

func New(st store.Store, cfg *config.Config) *App {
	return &App{
		Store:    st,
		Cfg:      cfg,
		Tokens:   NewTokenService(st, cfg),
		Billing:  NewStripeService(st, cfg),
		Sessions: auth.NewTokenManager(cfg.Session.JWTSecret, cfg.Session.Issuer, cfg.Session.TTL),
	}
}
