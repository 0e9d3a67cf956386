package app

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example/aegis-portal/app/models"
	"example/aegis-portal/auth"
)

// StatusResponse is the wire shape consumed by the desktop client.
type StatusResponse struct {
	Allowed         bool   `json:"allowed"`
	Plan            string `json:"plan"`
	Status          string `json:"status"`
	Balance         int    `json:"balance"` // -1 = unlimited
	LifetimeLicense bool   `json:"lifetimeLicense"`
	Email           string `json:"email,omitempty"`
	ExpiresAt       string `json:"expiresAt,omitempty"`
	Message         string `json:"message,omitempty"`
	UpgradeURL      string `json:"upgradeUrl,omitempty"`
}

// CheckStatus handles GET /api/check_status: the read-only entitlement check
// the desktop app performs on startup. 402 when the trial is exhausted, with
// the upgrade hint still in the body.
func (a *App) CheckStatus(c *gin.Context) {
	user, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	a.respondStatus(c, *user)
}

type checkStatusRequest struct {
	Action    string `json:"action"`
	ProjectID string `json:"projectId"`
}

// CheckStatusAndSpend handles POST /api/check_status: same as GET but an
// action named in the body is spent first.
func (a *App) CheckStatusAndSpend(c *gin.Context) {
	user, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req checkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Action != "" {
		action, err := models.ParseTokenAction(req.Action)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := a.Tokens.Spend(c.Request.Context(), *user, action, req.ProjectID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to spend tokens"})
			return
		}
		if !result.Success {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"allowed":    false,
				"message":    result.Message,
				"balance":    result.Balance,
				"upgradeUrl": result.UpgradeURL,
			})
			return
		}

		// The spend changed the balance; report the fresh row.
		fresh, err := a.Store.UserByID(c.Request.Context(), user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
			return
		}
		user = &fresh
	}

	a.respondStatus(c, *user)
}

// respondStatus serializes the access decision: 200 when allowed, 402 when
// entitlement is exhausted (never 401/403, which the middleware owns).
func (a *App) respondStatus(c *gin.Context, user models.User) {
	access, err := a.Tokens.CheckAccess(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check access"})
		return
	}

	resp := StatusResponse{
		Allowed:         access.Allowed,
		Plan:            string(access.Plan),
		Status:          string(access.Status),
		Balance:         access.Balance,
		LifetimeLicense: access.LifetimeLicense,
		Email:           user.Email,
		Message:         access.Message,
		UpgradeURL:      access.UpgradeURL,
	}

	if sub, err := a.Tokens.subscriptionOf(c.Request.Context(), user.ID); err == nil && sub != nil && sub.CurrentPeriodEnd != nil {
		resp.ExpiresAt = sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}

	status := http.StatusOK
	if !access.Allowed {
		status = http.StatusPaymentRequired
	}
	c.JSON(status, resp)
}
