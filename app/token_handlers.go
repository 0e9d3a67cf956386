package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example/aegis-portal/app/models"
	"example/aegis-portal/auth"
)

type ledgerEntryResponse struct {
	Action       string `json:"action"`
	Amount       int    `json:"amount"`
	BalanceAfter int    `json:"balanceAfter"`
	Description  string `json:"description"`
	CreatedAt    string `json:"createdAt"`
}

type tokenBalanceResponse struct {
	Balance         int                   `json:"balance"`
	Plan            string                `json:"plan"`
	Status          string                `json:"status"`
	LifetimeLicense bool                  `json:"lifetimeLicense"`
	History         []ledgerEntryResponse `json:"history"`
}

// TokenBalance handles GET /api/tokens: balance plus the most recent ledger
// entries, newest first.
func (a *App) TokenBalance(c *gin.Context) {
	user, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	report, err := a.Tokens.GetBalance(c.Request.Context(), *user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load balance"})
		return
	}

	history := make([]ledgerEntryResponse, 0, len(report.History))
	for _, e := range report.History {
		history = append(history, ledgerEntryResponse{
			Action:       string(e.Action),
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			Description:  e.Description,
			CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, tokenBalanceResponse{
		Balance:         report.Access.Balance,
		Plan:            string(report.Access.Plan),
		Status:          string(report.Access.Status),
		LifetimeLicense: report.Access.LifetimeLicense,
		History:         history,
	})
}

type spendRequest struct {
	Action    string `json:"action" binding:"required"`
	ProjectID string `json:"projectId"`
}

type spendResponse struct {
	Success    bool   `json:"success"`
	TokensUsed int    `json:"tokensUsed"`
	Balance    int    `json:"balance"`
	Plan       string `json:"plan"`
	Error      string `json:"error,omitempty"`
	Required   int    `json:"required,omitempty"`
	Message    string `json:"message,omitempty"`
	UpgradeURL string `json:"upgradeUrl,omitempty"`
}

// SpendTokens handles POST /api/tokens/spend. Invalid actions are rejected
// before any state mutation; insufficient balance is a 402 with the shortfall
// spelled out.
func (a *App) SpendTokens(c *gin.Context) {
	user, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req spendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

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

	resp := spendResponse{
		Success:    result.Success,
		TokensUsed: result.TokensUsed,
		Balance:    result.Balance,
		Plan:       string(result.Plan),
		Error:      result.Error,
		Required:   result.Required,
		Message:    result.Message,
		UpgradeURL: result.UpgradeURL,
	}
	if !result.Success {
		c.JSON(http.StatusPaymentRequired, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
