package gateway

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	xerrors "engage-service/internal/pkg/errors"
	"engage-service/internal/pkg/jwt"

	"go.uber.org/zap"
)

func TestRedactScrubsBearerAndSecrets(t *testing.T) {
	msg := Redact(`upstream said: Authorization: Bearer ya29.secret-token for device abc123`, "abc123")
	if strings.Contains(msg, "ya29.secret-token") || strings.Contains(msg, "abc123") {
		t.Fatalf("secrets leaked: %q", msg)
	}
	if !strings.Contains(msg, "[REDACTED]") {
		t.Fatalf("expected redaction marker in %q", msg)
	}
}

func newFCMTestGateway(t *testing.T, srv *httptest.Server) *FCMGateway {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	gen := jwt.NewAssertionGenerator(key, "push@demo.iam.gserviceaccount.com", srv.URL+"/token", jwt.FirebaseMessagingScope, "")
	return NewFCMGateway(FCMConfig{
		BaseURL:   srv.URL,
		ProjectID: "demo",
		TokenURI:  srv.URL + "/token",
	}, gen, zap.NewNop())
}

func TestFCMGatewaySendsWithExchangedToken(t *testing.T) {
	var tokenCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			atomic.AddInt32(&tokenCalls, 1)
			if err := r.ParseForm(); err != nil || r.Form.Get("assertion") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"access_token":"ya29.access","expires_in":3600}`))
		case "/v1/projects/demo/messages:send":
			if r.Header.Get("Authorization") != "Bearer ya29.access" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"token":"device-1"`) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"name":"projects/demo/messages/0:1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := newFCMTestGateway(t, srv)
	body := []byte(`{"message":{"token":"device-1","data":{"id":"N1"}}}`)

	for i := 0; i < 2; i++ {
		res, err := g.Send(context.Background(), "device-1", body)
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if !strings.Contains(res.Response, "projects/demo/messages") {
			t.Fatalf("unexpected response %q", res.Response)
		}
		if res.Request != string(body) {
			t.Fatalf("request audit mismatch")
		}
	}
	if n := atomic.LoadInt32(&tokenCalls); n != 1 {
		t.Fatalf("token exchanged %d times, want 1 (cached)", n)
	}
}

func TestFCMGatewayErrorIsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			w.Write([]byte(`{"access_token":"ya29.access","expires_in":3600}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"status":"NOT_FOUND","message":"Requested entity was not found. token ya29.access"}}`))
	}))
	defer srv.Close()

	g := newFCMTestGateway(t, srv)
	_, err := g.Send(context.Background(), "stale-token", []byte(`{}`))
	if !errors.Is(err, xerrors.ErrGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 GatewayError, got %#v", err)
	}
	if strings.Contains(gwErr.Message, "ya29.access") {
		t.Fatalf("access token leaked into message: %q", gwErr.Message)
	}
	if !strings.HasPrefix(gwErr.Message, "NOT_FOUND") {
		t.Fatalf("message = %q", gwErr.Message)
	}
}

func TestAPNsGatewayHeadersAndReason(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("authorization"), "bearer ") {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"reason":"MissingProviderToken"}`))
			return
		}
		if r.Header.Get("apns-topic") != "com.example.app" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"reason":"TopicDisallowed"}`))
			return
		}
		if r.URL.Path == "/3/device/bad-token" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"reason":"BadDeviceToken"}`))
			return
		}
		w.Header().Set("apns-id", "A1B2")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewAPNsGateway(APNsConfig{BaseURL: srv.URL, BundleID: "com.example.app"},
		jwt.NewProviderTokenGenerator(key, "KEY", "TEAM"), zap.NewNop())

	body := []byte(`{"aps":{"alert":{"title":"t","body":"b"},"sound":"default","mutable-content":1},"data":{"id":"N1"}}`)
	res, err := g.Send(context.Background(), "good-token", body)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(res.Response, "A1B2") {
		t.Fatalf("response audit = %q", res.Response)
	}

	_, err = g.Send(context.Background(), "bad-token", body)
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Message != "BadDeviceToken" {
		t.Fatalf("expected BadDeviceToken, got %v", err)
	}
}

type scriptedGateway struct {
	calls int32
	fail  atomic.Bool
}

func (s *scriptedGateway) Name() string { return "scripted" }

func (s *scriptedGateway) Send(ctx context.Context, token string, body []byte) (*Result, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.fail.Load() {
		return nil, NewError("scripted", 503, "unavailable")
	}
	return &Result{Request: string(body)}, nil
}

func TestBreakerOpensAndProbes(t *testing.T) {
	inner := &scriptedGateway{}
	inner.fail.Store(true)

	now := time.Unix(0, 0)
	b := NewBreaker(inner, BreakerConfig{Window: 4, MinSamples: 4, FailureRatio: 0.5, Cooldown: time.Minute}, zap.NewNop())
	b.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		b.Send(context.Background(), "t", nil)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	_, err := b.Send(context.Background(), "t", nil)
	if !errors.Is(err, xerrors.ErrGateway) {
		t.Fatalf("open breaker should return a gateway error, got %v", err)
	}
	if n := atomic.LoadInt32(&inner.calls); n != 4 {
		t.Fatalf("provider called %d times while open, want 4", n)
	}

	now = now.Add(2 * time.Minute)
	inner.fail.Store(false)
	if _, err := b.Send(context.Background(), "t", nil); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after a good probe", b.State())
	}
}

type blockingGateway struct{ release chan struct{} }

func (b *blockingGateway) Name() string { return "blocking" }

func (b *blockingGateway) Send(ctx context.Context, token string, body []byte) (*Result, error) {
	<-b.release
	return &Result{}, nil
}

func TestSendAsyncDoesNotBlockCaller(t *testing.T) {
	g := &blockingGateway{release: make(chan struct{})}
	ch := SendAsync(context.Background(), g, "t", nil)

	select {
	case <-ch:
		t.Fatal("outcome delivered before the provider answered")
	case <-time.After(20 * time.Millisecond):
	}

	close(g.release)
	select {
	case out := <-ch:
		if out.Err != nil {
			t.Fatalf("unexpected error: %v", out.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("outcome never delivered")
	}
}
