package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"engage-service/internal/pkg/jwt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	fcmProvider       = "fcm"
	defaultFCMBaseURL = "https://fcm.googleapis.com"
)

type FCMConfig struct {
	BaseURL           string
	ProjectID         string
	TokenURI          string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// FCMGateway sends FCM HTTP v1 messages. Access tokens come from the
// service-account JWT-bearer grant and are cached until shortly before
// expiry.
type FCMGateway struct {
	httpClient *http.Client
	cfg        FCMConfig
	assertions *jwt.AssertionGenerator
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewFCMGateway(cfg FCMConfig, assertions *jwt.AssertionGenerator, logger *zap.Logger) *FCMGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultFCMBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &FCMGateway{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		assertions: assertions,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

func (g *FCMGateway) Name() string { return fcmProvider }

func (g *FCMGateway) Send(ctx context.Context, token string, body []byte) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, NewError(fcmProvider, 0, fmt.Sprintf("rate limit wait: %v", err))
	}

	access, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/messages:send", strings.TrimRight(g.cfg.BaseURL, "/"), url.PathEscape(g.cfg.ProjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(fcmProvider, 0, fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, NewError(fcmProvider, 0, fmt.Sprintf("http request: %v", err), access, token)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, NewError(fcmProvider, resp.StatusCode, fmt.Sprintf("read response body: %v", err))
	}

	if resp.StatusCode == http.StatusUnauthorized {
		g.dropToken()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewError(fcmProvider, resp.StatusCode, fcmErrorMessage(respBody), access, token)
	}

	return &Result{Request: string(body), Response: string(respBody)}, nil
}

// fcmErrorMessage pulls status and message out of a Google API error body.
func fcmErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Message == "" {
		return truncate(body, 200)
	}
	if e.Error.Status != "" {
		return e.Error.Status + ": " + e.Error.Message
	}
	return e.Error.Message
}

func (g *FCMGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if g.accessToken != "" && now.Before(g.expiresAt.Add(-time.Minute)) {
		return g.accessToken, nil
	}

	assertion, _, err := g.assertions.Generate(now)
	if err != nil {
		return "", NewError(fcmProvider, 0, fmt.Sprintf("sign assertion: %v", err))
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", NewError(fcmProvider, 0, fmt.Sprintf("create token request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", NewError(fcmProvider, 0, fmt.Sprintf("token request: %v", err), assertion)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return "", NewError(fcmProvider, resp.StatusCode, "token exchange failed: "+truncate(body, 200), assertion)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", NewError(fcmProvider, resp.StatusCode, "token exchange returned no access token")
	}

	g.accessToken = tok.AccessToken
	g.expiresAt = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	g.logger.Debug("fcm access token refreshed", zap.Time("expires_at", g.expiresAt))
	return g.accessToken, nil
}

func (g *FCMGateway) dropToken() {
	g.mu.Lock()
	g.accessToken = ""
	g.mu.Unlock()
}
