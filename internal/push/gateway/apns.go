package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"engage-service/internal/pkg/jwt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	apnsProvider          = "apns"
	APNsProductionBaseURL = "https://api.push.apple.com"
	APNsSandboxBaseURL    = "https://api.sandbox.push.apple.com"
)

type APNsConfig struct {
	BaseURL           string
	BundleID          string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// APNsGateway posts payloads to the APNs HTTP/2 API with token-based auth.
type APNsGateway struct {
	httpClient *http.Client
	cfg        APNsConfig
	tokens     *jwt.ProviderTokenGenerator
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewAPNsGateway(cfg APNsConfig, tokens *jwt.ProviderTokenGenerator, logger *zap.Logger) *APNsGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = APNsProductionBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &APNsGateway{
		// net/http negotiates HTTP/2 over TLS, which APNs requires
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		tokens:     tokens,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

func (g *APNsGateway) Name() string { return apnsProvider }

func (g *APNsGateway) Send(ctx context.Context, token string, body []byte) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, NewError(apnsProvider, 0, fmt.Sprintf("rate limit wait: %v", err))
	}

	bearer, err := g.tokens.Token()
	if err != nil {
		return nil, NewError(apnsProvider, 0, err.Error())
	}

	endpoint := fmt.Sprintf("%s/3/device/%s", strings.TrimRight(g.cfg.BaseURL, "/"), token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(apnsProvider, 0, fmt.Sprintf("create request: %v", err))
	}

	pushType, priority := "alert", "10"
	if isBackground(body) {
		pushType, priority = "background", "5"
	}
	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-topic", g.cfg.BundleID)
	req.Header.Set("apns-push-type", pushType)
	req.Header.Set("apns-priority", priority)
	req.Header.Set("content-type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, NewError(apnsProvider, 0, fmt.Sprintf("http request: %v", err), bearer, token)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	if resp.StatusCode != http.StatusOK {
		reason := apnsReason(respBody)
		if reason == "ExpiredProviderToken" || reason == "InvalidProviderToken" {
			g.tokens.Invalidate()
		}
		return nil, NewError(apnsProvider, resp.StatusCode, reason, bearer, token)
	}

	return &Result{
		Request:  string(body),
		Response: fmt.Sprintf(`{"apns-id":%q,"status":%d}`, resp.Header.Get("apns-id"), resp.StatusCode),
	}, nil
}

func apnsReason(body []byte) string {
	var e struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Reason == "" {
		return truncate(body, 200)
	}
	return e.Reason
}

// isBackground reports whether the rendered payload is a silent push.
func isBackground(body []byte) bool {
	var p struct {
		Aps struct {
			Alert            json.RawMessage `json:"alert"`
			ContentAvailable int             `json:"content-available"`
		} `json:"aps"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return false
	}
	return p.Aps.ContentAvailable == 1 && len(p.Aps.Alert) == 0
}
