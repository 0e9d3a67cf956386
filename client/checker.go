package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// DefaultTimeout bounds every status request.
const DefaultTimeout = 10 * time.Second

// Checker performs subscription status checks against the portal. A single
// background goroutine runs at most one check at a time; the last completed
// result wins and is cached for display.
type Checker struct {
	baseURL string
	httpc   *http.Client
	creds   *Credentials

	mu       sync.Mutex
	inFlight bool
	cached   *Status
}

func NewChecker(baseURL string, timeout time.Duration, creds *Credentials) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		creds:   creds,
	}
}

type statusResponse struct {
	Allowed         bool   `json:"allowed"`
	Plan            string `json:"plan"`
	Status          string `json:"status"`
	Balance         int    `json:"balance"`
	LifetimeLicense bool   `json:"lifetimeLicense"`
	Email           string `json:"email"`
	ExpiresAt       string `json:"expiresAt"`
	Message         string `json:"message"`
}

// Check performs a synchronous status check. It never returns an error: any
// transport-level failure degrades to the permissive offline status, keeping
// "server said no" distinct from "server unreachable".
func (c *Checker) Check(ctx context.Context) Status {
	key, err := c.creds.APIKey()
	if err != nil || key == "" {
		return Expired("No API key configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/check_status", nil)
	if err != nil {
		return OfflineStatus()
	}
	req.Header.Set("X-API-Key", key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		log.Printf("status check failed: %v", err)
		return OfflineStatus()
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPaymentRequired:
		var body statusResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			log.Printf("status response parse failed: %v", err)
			return OfflineStatus()
		}
		return c.interpret(body)

	case http.StatusUnauthorized:
		return Expired("Invalid API key")

	case http.StatusForbidden:
		return Expired("Access denied")

	default:
		log.Printf("unexpected status code: %d", resp.StatusCode)
		return OfflineStatus()
	}
}

func (c *Checker) interpret(body statusResponse) Status {
	plan := parsePlan(body.Plan)
	state := parseState(body.Status)
	lifetime := body.LifetimeLicense || plan == PlanLifetime
	if lifetime {
		state = StateLifetime
	}

	return Status{
		Valid:        body.Allowed,
		Plan:         plan,
		State:        state,
		TokenBalance: body.Balance,
		Lifetime:     lifetime,
		Email:        body.Email,
		ExpiresAt:    body.ExpiresAt,
		ErrorMessage: body.Message,
	}
}

// CheckAsync runs one check in a background goroutine and delivers the
// result to onComplete. If a check is already in flight the call is refused
// and returns false; the caller keeps the single-flight rule simple by
// retrying after the outstanding check lands.
func (c *Checker) CheckAsync(ctx context.Context, onComplete func(Status)) bool {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return false
	}
	c.inFlight = true
	c.mu.Unlock()

	go func() {
		status := c.Check(ctx)

		c.mu.Lock()
		c.inFlight = false
		c.cached = &status
		c.mu.Unlock()

		onComplete(status)
	}()
	return true
}

// Cached returns the last completed status, if any, without a network call.
func (c *Checker) Cached() (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil {
		return Status{}, false
	}
	return *c.cached, true
}

// ClearCache drops the cached status.
func (c *Checker) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
}

// SpendResult mirrors the portal's spend response.
type SpendResult struct {
	Success    bool   `json:"success"`
	TokensUsed int    `json:"tokensUsed"`
	Balance    int    `json:"balance"`
	Plan       string `json:"plan"`
	Error      string `json:"error"`
	Required   int    `json:"required"`
	Message    string `json:"message"`
	UpgradeURL string `json:"upgradeUrl"`
}

// Spend asks the portal to deduct tokens for an action. Unlike Check, a
// transport failure here is a real error: a spend cannot be assumed to have
// happened offline.
func (c *Checker) Spend(ctx context.Context, action, projectID string) (SpendResult, error) {
	key, err := c.creds.APIKey()
	if err != nil || key == "" {
		return SpendResult{}, fmt.Errorf("no API key configured")
	}

	payload, err := json.Marshal(map[string]string{
		"action":    action,
		"projectId": projectID,
	})
	if err != nil {
		return SpendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tokens/spend", bytes.NewReader(payload))
	if err != nil {
		return SpendResult{}, err
	}
	req.Header.Set("X-API-Key", key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return SpendResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPaymentRequired:
		var result SpendResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return SpendResult{}, err
		}
		return result, nil
	case http.StatusUnauthorized:
		return SpendResult{}, fmt.Errorf("invalid API key")
	case http.StatusForbidden:
		return SpendResult{}, fmt.Errorf("access denied")
	default:
		return SpendResult{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
}
