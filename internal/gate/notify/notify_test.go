package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lexops/accessgate/internal/gate/email"
	"github.com/lexops/accessgate/internal/gate/gatemetrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []email.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg email.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.msgs = append(s.msgs, msg)
	return "msg-1", nil
}

func (s *recordingSender) sent() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.Message(nil), s.msgs...)
}

func TestDispatcherDispatch(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, "", "https://app.example.com")

	ack, err := d.Dispatch(context.Background(), Notice{Email: "a@x.com", Token: "INV1", Name: "Ana Souza"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !ack.Success || ack.ID != "msg-1" {
		t.Fatalf("ack = %+v", ack)
	}
	msgs := sender.sent()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.From != DefaultFrom || msg.To != "a@x.com" || msg.Subject != email.AccessEmailSubject {
		t.Fatalf("message = %+v", msg)
	}
	if !strings.Contains(msg.Text, "https://app.example.com/?token=INV1") {
		t.Fatalf("text body missing access url: %q", msg.Text)
	}
}

func TestDispatcherRejectsIncompleteNotice(t *testing.T) {
	d := NewDispatcher(&recordingSender{}, "", "https://app.example.com")
	if _, err := d.Dispatch(context.Background(), Notice{Token: "INV1"}); !errors.Is(err, ErrInvalidNotice) {
		t.Fatalf("err = %v, want ErrInvalidNotice", err)
	}
}

type blockingNotifier struct {
	release chan struct{}
	calls   chan Notice
}

func (b *blockingNotifier) Dispatch(ctx context.Context, n Notice) (Ack, error) {
	b.calls <- n
	select {
	case <-b.release:
		return Ack{Success: true, ID: "x"}, nil
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

func TestTriggerFireDoesNotBlock(t *testing.T) {
	n := &blockingNotifier{release: make(chan struct{}), calls: make(chan Notice, 1)}
	trigger := NewTrigger(n, time.Second, true)

	start := time.Now()
	trigger.Fire(Notice{Email: "a@x.com", Token: "INV1"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Fire blocked on delivery")
	}

	select {
	case got := <-n.calls:
		if got.Token != "INV1" {
			t.Fatalf("notice = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("notifier was never called")
	}

	close(n.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := trigger.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestTriggerSwallowsFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("provider down")}
	trigger := NewTrigger(NewDispatcher(sender, "", "https://app.example.com"), time.Second, true)

	before := testutil.ToFloat64(gatemetrics.NotificationsTotal.WithLabelValues("failed"))
	trigger.Fire(Notice{Email: "a@x.com", Token: "INV1"})
	if err := trigger.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	after := testutil.ToFloat64(gatemetrics.NotificationsTotal.WithLabelValues("failed"))
	if after != before+1 {
		t.Fatalf("failed counter = %v, want %v", after, before+1)
	}
}

func TestTriggerSkips(t *testing.T) {
	sender := &recordingSender{}
	disabled := NewTrigger(NewDispatcher(sender, "", ""), time.Second, false)
	disabled.Fire(Notice{Email: "a@x.com", Token: "INV1"})

	enabled := NewTrigger(NewDispatcher(sender, "", ""), time.Second, true)
	enabled.Fire(Notice{Token: "INV1"})

	_ = disabled.Wait(context.Background())
	_ = enabled.Wait(context.Background())
	if got := len(sender.sent()); got != 0 {
		t.Fatalf("sent %d messages, want 0", got)
	}

	var nilTrigger *Trigger
	nilTrigger.Fire(Notice{Email: "a@x.com", Token: "INV1"})
}

func TestHandleNotify(t *testing.T) {
	sender := &recordingSender{}
	handler := HandleNotify(NewDispatcher(sender, "", "https://app.example.com"))

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{name: "ok", body: `{"email":"a@x.com","token":"INV1","nome":"Ana"}`, wantStatus: http.StatusOK, wantBody: `"id":"msg-1"`},
		{name: "missing email", body: `{"token":"INV1"}`, wantStatus: http.StatusBadRequest, wantBody: "Email é obrigatório"},
		{name: "missing token", body: `{"email":"a@x.com"}`, wantStatus: http.StatusBadRequest, wantBody: "Token é obrigatório"},
		{name: "bad json", body: `{`, wantStatus: http.StatusBadRequest, wantBody: "JSON inválido"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/notify", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %s, want substring %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleNotifyErrors(t *testing.T) {
	failing := HandleNotify(NewDispatcher(&recordingSender{err: errors.New("boom")}, "", ""))
	req := httptest.NewRequest(http.MethodPost, "/api/notify", strings.NewReader(`{"email":"a@x.com","token":"INV1"}`))
	rec := httptest.NewRecorder()
	failing(rec, req)
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	HandleNotify(nil)(rec, httptest.NewRequest(http.MethodPost, "/api/notify", strings.NewReader(`{}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil notifier status = %d, want 503", rec.Code)
	}
}
