package app

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"example/aegis-portal/auth"
)

// NewRouter builds the portal HTTP router.
func NewRouter(a *App) *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", Health)
	router.POST("/api/stripe/webhook", a.StripeWebhook)
	router.POST("/api/checkout", a.CreateCheckout)
	router.POST("/api/portal", a.CreatePortal)
	router.POST("/api/auth/signup", a.Signup)
	router.POST("/api/auth/login", a.Login)

	// Desktop client endpoints, authenticated by API key.
	keyed := router.Group("/api", auth.APIKeyMiddleware(a.Store))
	keyed.GET("/check_status", a.CheckStatus)
	keyed.POST("/check_status", a.CheckStatusAndSpend)
	keyed.GET("/tokens", a.TokenBalance)
	keyed.POST("/tokens/spend", a.SpendTokens)

	// Dashboard endpoints, authenticated by session token.
	session := router.Group("/api", auth.SessionMiddleware(a.Sessions, a.Store))
	session.GET("/me", a.Me)
	session.POST("/keys", a.CreateAPIKey)
	session.GET("/keys", a.ListAPIKeys)
	session.DELETE("/keys/:id", a.RevokeAPIKey)

	return router
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
