package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/dnscache"
)

func TestLogSender_Send(t *testing.T) {
	var called bool
	var gotTo, gotSubject string

	sender := NewLogSender(func(to, subject, body string) {
		called = true
		gotTo = to
		gotSubject = subject
		_ = body
	})

	id, err := sender.Send(context.Background(), Message{
		To:      "test@example.com",
		Subject: "Test Subject",
		Text:    "Hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("log function was not called")
	}
	if gotTo != "test@example.com" || gotSubject != "Test Subject" {
		t.Errorf("got to=%s subject=%s", gotTo, gotSubject)
	}
	if !strings.HasPrefix(id, "log-") || len(id) != len("log-")+26 {
		t.Errorf("unexpected id %q", id)
	}
}

func TestResendSender_Send(t *testing.T) {
	var got resendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_123"}`))
	}))
	defer srv.Close()

	sender := NewResendSender("re_key", srv.Client())
	sender.endpoint = srv.URL

	id, err := sender.Send(context.Background(), Message{From: "noreply@example.com", To: "a@x.com", Subject: "Oi", HTML: "<p>oi</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "re_123" {
		t.Errorf("id = %q, want re_123", id)
	}
	if auth != "Bearer re_key" {
		t.Errorf("Authorization = %q", auth)
	}
	if len(got.To) != 1 || got.To[0] != "a@x.com" || got.Subject != "Oi" {
		t.Errorf("request = %+v", got)
	}
}

func TestResendSender_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"validation_error","message":"invalid from"}`))
	}))
	defer srv.Close()

	sender := NewResendSender("re_key", srv.Client())
	sender.endpoint = srv.URL
	if _, err := sender.Send(context.Background(), Message{To: "a@x.com"}); err == nil || !strings.Contains(err.Error(), "invalid from") {
		t.Fatalf("expected resend error, got %v", err)
	}
}

func TestPostmarkSender_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Postmark-Server-Token") != "pm-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ErrorCode":10,"Message":"bad token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"MessageID":"pm-1","ErrorCode":0}`))
	}))
	defer srv.Close()

	sender := NewPostmarkSender("pm-token", srv.Client())
	sender.endpoint = srv.URL
	id, err := sender.Send(context.Background(), Message{To: "a@x.com"})
	if err != nil || id != "pm-1" {
		t.Fatalf("Send = %q, %v", id, err)
	}

	bad := NewPostmarkSender("wrong", srv.Client())
	bad.endpoint = srv.URL
	if _, err := bad.Send(context.Background(), Message{To: "a@x.com"}); err == nil {
		t.Fatal("expected error for rejected token")
	}
}

func TestNewHTTPClientUsesResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := NewHTTPClient(&dnscache.Resolver{}, time.Second)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRefreshDNSStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RefreshDNS(ctx, &dnscache.Resolver{}, time.Millisecond) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RefreshDNS: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RefreshDNS did not stop")
	}
}

func TestRenderAccessEmail(t *testing.T) {
	html, text, err := RenderAccessEmail(AccessEmailData{
		Name:    "Ana Maria Souza",
		Token:   "INV 1&2",
		SiteURL: "https://app.example.com/",
	})
	if err != nil {
		t.Fatalf("RenderAccessEmail: %v", err)
	}
	if !strings.Contains(html, "Olá <strong>Ana</strong>!") {
		t.Error("html missing first name greeting")
	}
	if strings.Contains(html, "Maria") {
		t.Error("html must only show the first name")
	}
	if !strings.Contains(text, "https://app.example.com/?token=INV+1%262") {
		t.Errorf("text missing access url: %s", text)
	}
	if !strings.Contains(html, "INV 1&amp;2") {
		t.Error("token must be HTML-escaped")
	}
}

func TestFirstNameDefault(t *testing.T) {
	if got := FirstName("  "); got != "Cliente" {
		t.Fatalf("FirstName(blank) = %q", got)
	}
}
