// Package notify sends the access email after a successful validation.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lexops/accessgate/internal/gate/email"
	"github.com/lexops/accessgate/internal/gate/entitlement"
	"github.com/lexops/accessgate/internal/gate/gatemetrics"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultFrom is used when no sender address is configured.
	DefaultFrom    = "noreply@lexopsinsight.com.br"
	defaultTimeout = 10 * time.Second
)

// ErrInvalidNotice is returned when a notice lacks an email or token.
var ErrInvalidNotice = errors.New("notice requires email and token")

// Notice is the input of an access email.
type Notice struct {
	Email string `json:"email"`
	Token string `json:"token"`
	Name  string `json:"name,omitempty"`

	// RequestID ties the detached send back to the request that fired it.
	RequestID string `json:"-"`
}

// Ack is the delivery acknowledgment.
type Ack struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Notifier delivers a notice.
type Notifier interface {
	Dispatch(ctx context.Context, n Notice) (Ack, error)
}

// Dispatcher renders the access email and hands it to an email.Sender.
type Dispatcher struct {
	sender  email.Sender
	from    string
	siteURL string
}

// NewDispatcher creates a dispatcher. siteURL is the base of the access link.
func NewDispatcher(sender email.Sender, from, siteURL string) *Dispatcher {
	if strings.TrimSpace(from) == "" {
		from = DefaultFrom
	}
	return &Dispatcher{sender: sender, from: from, siteURL: siteURL}
}

// Dispatch sends the access email for n.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notice) (Ack, error) {
	n.Email = strings.TrimSpace(n.Email)
	n.Token = strings.TrimSpace(n.Token)
	if n.Email == "" || n.Token == "" {
		return Ack{}, ErrInvalidNotice
	}
	if d == nil || d.sender == nil {
		return Ack{}, fmt.Errorf("email sender not configured")
	}

	html, text, err := email.RenderAccessEmail(email.AccessEmailData{
		Name:    n.Name,
		Token:   n.Token,
		SiteURL: d.siteURL,
	})
	if err != nil {
		return Ack{}, err
	}

	id, err := d.sender.Send(ctx, email.Message{
		From:    d.from,
		To:      n.Email,
		Subject: email.AccessEmailSubject,
		HTML:    html,
		Text:    text,
	})
	if err != nil {
		return Ack{}, fmt.Errorf("send access email: %w", err)
	}
	return Ack{Success: true, ID: id, Message: "Email enviado com sucesso"}, nil
}

// Trigger fires notifications without blocking the caller.
type Trigger struct {
	notifier Notifier
	timeout  time.Duration
	enabled  bool
	wg       sync.WaitGroup
}

// NewTrigger creates a trigger. A disabled trigger or nil notifier skips
// every notice.
func NewTrigger(notifier Notifier, timeout time.Duration, enabled bool) *Trigger {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Trigger{notifier: notifier, timeout: timeout, enabled: enabled}
}

// Fire dispatches n in its own goroutine with a context detached from any
// request. Failures are logged and counted only.
func (t *Trigger) Fire(n Notice) {
	if t == nil || !t.enabled || t.notifier == nil || strings.TrimSpace(n.Email) == "" {
		gatemetrics.NotificationsTotal.WithLabelValues("skipped").Inc()
		return
	}

	logger := log.With().Str("token_prefix", entitlement.TokenPrefix(n.Token)).Logger()
	if n.RequestID != "" {
		logger = logger.With().Str("request_id", n.RequestID).Logger()
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				gatemetrics.NotificationsTotal.WithLabelValues("failed").Inc()
				logger.Error().Interface("panic", r).Msg("Access email dispatch panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		ack, err := t.notifier.Dispatch(ctx, n)
		if err != nil {
			gatemetrics.NotificationsTotal.WithLabelValues("failed").Inc()
			logger.Warn().Err(err).Msg("Access email dispatch failed")
			return
		}
		gatemetrics.NotificationsTotal.WithLabelValues("sent").Inc()
		logger.Info().Str("message_id", ack.ID).Msg("Access email sent")
	}()
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (t *Trigger) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
