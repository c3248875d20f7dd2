package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lexops/accessgate/internal/gate/notify"
	"github.com/lexops/accessgate/internal/gate/registry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (n *recordingNotifier) Dispatch(_ context.Context, notice notify.Notice) (notify.Ack, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return notify.Ack{Success: true, ID: "msg-1"}, nil
}

func (n *recordingNotifier) sent() []notify.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notice(nil), n.notices...)
}

type testGate struct {
	handler  http.Handler
	store    *registry.Store
	notifier *recordingNotifier
	trigger  *notify.Trigger
}

func newTestGate(t *testing.T, cfg *Config) *testGate {
	t.Helper()
	store, err := registry.Open(context.Background(), registry.Options{
		URL: "sqlite://" + filepath.Join(t.TempDir(), "entitlements.db"),
	})
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.RedirectMode == "" {
		cfg.RedirectMode = "html"
	}
	notifier := &recordingNotifier{}
	trigger := notify.NewTrigger(notifier, time.Second, true)
	return &testGate{
		handler: NewHandler(&Deps{
			Config:   cfg,
			Store:    store,
			Notifier: notifier,
			Trigger:  trigger,
			Version:  "test",
		}),
		store:    store,
		notifier: notifier,
		trigger:  trigger,
	}
}

func (g *testGate) do(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestEndToEndGrantValidateRevoke(t *testing.T) {
	g := newTestGate(t, nil)

	// Paid invoice grants access.
	rec := g.do(t, http.MethodPost, "/webhooks/eduzz", `{"fatura_status": 3, "fatura_id": "INV1", "cus_email": "a@x.com"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d", rec.Code)
	}

	rec = g.do(t, http.MethodGet, "/validate?token=INV1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["valid"] != true || body["email"] != "a@x.com" {
		t.Fatalf("validate body = %v", body)
	}
	if err := g.trigger.Wait(context.Background()); err != nil {
		t.Fatalf("trigger.Wait: %v", err)
	}
	if sent := g.notifier.sent(); len(sent) != 1 || sent[0].Email != "a@x.com" || sent[0].Token != "INV1" {
		t.Fatalf("notifications = %+v", sent)
	}

	// Remove revokes it.
	rec = g.do(t, http.MethodPost, "/webhooks/eduzz/delivery", `{"type": "remove", "edz_fat_cod": "INV1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delivery status = %d", rec.Code)
	}
	rec = g.do(t, http.MethodGet, "/api/validate?token=INV1", "", nil)
	if rec.Code != http.StatusForbidden || decodeBody(t, rec)["code"] != "TokenDisabled" {
		t.Fatalf("validate after revoke = %d %s", rec.Code, rec.Body.String())
	}

	// Empty token.
	rec = g.do(t, http.MethodGet, "/validate?token=", "", nil)
	if rec.Code != http.StatusUnauthorized || decodeBody(t, rec)["message"] != "token ausente" {
		t.Fatalf("empty token = %d %s", rec.Code, rec.Body.String())
	}
}

func TestValidateWithoutStoreIsUnavailable(t *testing.T) {
	h := NewHandler(&Deps{Config: &Config{RedirectMode: "html"}, Version: "test"})

	req := httptest.NewRequest(http.MethodGet, "/api/validate?token=INV1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/eduzz", strings.NewReader(`{"fatura_status": 3, "fatura_id": "INV1"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook without store = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz without store = %d, want 503", rec.Code)
	}
}

func TestAdminRoutesRequireKey(t *testing.T) {
	g := newTestGate(t, &Config{AdminKey: "admin-key"})

	for _, path := range []string{"/status", "/metrics"} {
		if rec := g.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without key = %d, want 401", path, rec.Code)
		}
		if rec := g.do(t, http.MethodGet, path, "", http.Header{"X-Admin-Key": {"admin-key"}}); rec.Code != http.StatusOK {
			t.Fatalf("%s with key = %d, want 200", path, rec.Code)
		}
	}
	if rec := g.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestPublicMetrics(t *testing.T) {
	g := newTestGate(t, &Config{PublicMetrics: true})
	rec := g.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "accessgate_") {
		t.Fatal("expected accessgate metrics in exposition")
	}
}

func TestNotifyEndpoint(t *testing.T) {
	g := newTestGate(t, &Config{AdminKey: "admin-key"})

	if rec := g.do(t, http.MethodOptions, "/api/notify", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("preflight = %d, want 200", rec.Code)
	}
	body := `{"email": "a@x.com", "token": "INV1", "nome": "Ana"}`
	if rec := g.do(t, http.MethodPost, "/api/notify", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("notify without key = %d, want 401", rec.Code)
	}
	rec := g.do(t, http.MethodPost, "/api/notify", body, http.Header{"Authorization": {"Bearer admin-key"}})
	if rec.Code != http.StatusOK || decodeBody(t, rec)["success"] != true {
		t.Fatalf("notify = %d %s", rec.Code, rec.Body.String())
	}
	if sent := g.notifier.sent(); len(sent) != 1 || sent[0].Name != "Ana" {
		t.Fatalf("notifications = %+v", sent)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	g := newTestGate(t, nil)

	rec := g.do(t, http.MethodGet, "/healthz", "", http.Header{"X-Request-Id": {"req-42"}})
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID = %q, want echo of incoming id", got)
	}
	if rec := g.do(t, http.MethodGet, "/healthz", "", nil); len(rec.Header().Get("X-Request-ID")) != 36 {
		t.Fatalf("generated X-Request-ID = %q", rec.Header().Get("X-Request-ID"))
	}

	rec = g.do(t, http.MethodOptions, "/api/validate", "", http.Header{"Origin": {"https://app.example.com"}})
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight = %d, allow-origin %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	previous := log.Logger
	log.Logger = zerolog.New(buf)
	t.Cleanup(func() { log.Logger = previous })
	return buf
}

func TestHandlerLogsCarryRequestID(t *testing.T) {
	logs := captureLogs(t)
	g := newTestGate(t, nil)

	rec := g.do(t, http.MethodPost, "/webhooks/eduzz", `{"fatura_status": 3, "fatura_id": "INV9", "cus_email": "r@x.com"}`,
		http.Header{"X-Request-Id": {"req-hook-7"}})
	if rec.Code != http.StatusOK || rec.Header().Get("X-Request-ID") != "req-hook-7" {
		t.Fatalf("webhook = %d, request id %q", rec.Code, rec.Header().Get("X-Request-ID"))
	}
	g.do(t, http.MethodGet, "/api/validate?token=INV9", "", http.Header{"X-Request-Id": {"req-check-8"}})
	if err := g.trigger.Wait(context.Background()); err != nil {
		t.Fatalf("trigger.Wait: %v", err)
	}

	want := map[string]string{
		"Webhook grant processed": "req-hook-7",
		"Entitlement granted":     "req-hook-7",
		"Token validation":        "req-check-8",
		"Access email sent":       "req-check-8",
	}
	seen := map[string]bool{}
	for _, entry := range logs.lines(t) {
		msg, _ := entry["message"].(string)
		id, ok := want[msg]
		if !ok {
			continue
		}
		if entry["request_id"] != id {
			t.Fatalf("%q logged request_id %v, want %s", msg, entry["request_id"], id)
		}
		seen[msg] = true
	}
	for msg := range want {
		if !seen[msg] {
			t.Fatalf("no %q log line captured", msg)
		}
	}
}

func TestNewSenderSelection(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "resend", cfg: Config{EmailProvider: EmailProviderResend, ResendAPIKey: "re_1"}, want: "*email.ResendSender"},
		{name: "postmark", cfg: Config{EmailProvider: EmailProviderPostmark, PostmarkServerToken: "pm"}, want: "*email.PostmarkSender"},
		{name: "missing key", cfg: Config{EmailProvider: EmailProviderPostmark, ResendAPIKey: "re_1"}, want: "*email.LogSender"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			got := typeName(NewSender(&cfg, http.DefaultClient))
			if got != tt.want {
				t.Fatalf("NewSender = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
