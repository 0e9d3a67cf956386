package app

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"example/aegis-portal/app/models"
	"example/aegis-portal/app/store"
	"example/aegis-portal/auth"
)

type signupRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type userResponse struct {
	ID              int64  `json:"id"`
	Email           string `json:"email"`
	TokenBalance    int    `json:"tokenBalance"`
	LifetimeLicense bool   `json:"lifetimeLicense"`
}

// Signup handles POST /api/auth/signup: creates the account and grants the
// free-tier starting balance as a signup_bonus ledger credit.
func (a *App) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !strings.Contains(email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if len(req.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	user, err := a.Store.CreateUser(c.Request.Context(), email, string(passwordHash), 0)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
			return
		}
		log.Printf("create user failed email=%s err=%v", email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	credit, err := a.Tokens.Credit(c.Request.Context(), user, a.Cfg.Tokens.FreeTokens, models.ActionSignupBonus, "Signup bonus")
	if err != nil {
		log.Printf("signup bonus credit failed user=%d err=%v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}
	user.TokenBalance = credit.Balance

	a.respondSession(c, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/auth/login.
func (a *App) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	user, err := a.Store.UserByEmail(c.Request.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if user.PasswordHash == "" {
		// Checkout-created account that never set a password.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	a.respondSession(c, http.StatusOK, user)
}

func (a *App) respondSession(c *gin.Context, status int, user models.User) {
	token, err := a.Sessions.Generate(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(status, sessionResponse{
		Token: token,
		User: userResponse{
			ID:              user.ID,
			Email:           user.Email,
			TokenBalance:    user.TokenBalance,
			LifetimeLicense: user.LifetimeLicense,
		},
	})
}

// Me handles GET /api/me: the session user plus the current access decision.
func (a *App) Me(c *gin.Context) {
	user, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	access, err := a.Tokens.CheckAccess(c.Request.Context(), *user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check access"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": userResponse{
			ID:              user.ID,
			Email:           user.Email,
			TokenBalance:    user.TokenBalance,
			LifetimeLicense: user.LifetimeLicense,
		},
		"allowed": access.Allowed,
		"plan":    access.Plan,
		"status":  access.Status,
		"balance": access.Balance,
	})
}

type createKeyRequest struct {
	Name string `json:"name"`
}

type apiKeyResponse struct {
	ID         string `json:"id"`
	KeyPrefix  string `json:"keyPrefix"`
	Name       string `json:"name"`
	Revoked    bool   `json:"revoked"`
	LastUsedAt string `json:"lastUsedAt,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// CreateAPIKey handles POST /api/keys. The full key appears in this response
// and nowhere else, ever again.
func (a *App) CreateAPIKey(c *gin.Context) {
	user, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.Name = ""
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Default Key"
	}

	key, keyHash, keyPrefix, err := auth.GenerateAPIKey()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate key"})
		return
	}

	record := models.APIKey{
		ID:        uuid.New(),
		UserID:    user.ID,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.Store.CreateAPIKey(c.Request.Context(), record); err != nil {
		log.Printf("create api key failed user=%d err=%v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create key"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        record.ID.String(),
		"key":       key,
		"keyPrefix": keyPrefix,
		"name":      name,
	})
}

// ListAPIKeys handles GET /api/keys. Only prefixes are returned.
func (a *App) ListAPIKeys(c *gin.Context) {
	user, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	keys, err := a.Store.APIKeysByUser(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list keys"})
		return
	}

	out := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp := apiKeyResponse{
			ID:        k.ID.String(),
			KeyPrefix: k.KeyPrefix,
			Name:      k.Name,
			Revoked:   k.Revoked,
			CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339),
		}
		if k.LastUsedAt != nil {
			resp.LastUsedAt = k.LastUsedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, resp)
	}

	c.JSON(http.StatusOK, gin.H{"keys": out})
}

// RevokeAPIKey handles DELETE /api/keys/:id. Keys are soft-revoked, never
// hard-deleted, to preserve the last-used audit trail.
func (a *App) RevokeAPIKey(c *gin.Context) {
	user, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key id"})
		return
	}

	if err := a.Store.RevokeAPIKey(c.Request.Context(), id, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
