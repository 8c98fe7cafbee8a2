package imapmail

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"mailrulez/core/domain"
	"mailrulez/core/port/out"
	"mailrulez/pkg/apperr"
)

// Dialer opens IMAP sessions with a per-account circuit breaker so a
// misbehaving server cannot burn every scheduler cycle on timeouts.
type Dialer struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewDialer creates a Dialer.
func NewDialer() *Dialer {
	return &Dialer{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (d *Dialer) breakerFor(email string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[email]; ok {
		return cb
	}
	settings := gobreaker.Settings{
		Name:        "imap-" + email,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("component", "imap").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	d.breakers[email] = cb
	return cb
}

// Dial connects, authenticates and returns a live session. SSL is the
// default on 993; STARTTLS and cleartext are available when configured.
func (d *Dialer) Dial(ctx context.Context, account *domain.Account) (out.Mailbox, error) {
	cb := d.breakerFor(account.Email)
	conn, err := cb.Execute(func() (interface{}, error) {
		return d.connect(account)
	})
	if err != nil {
		return nil, apperr.ConnectionFailed(account.Email, err)
	}
	return conn.(out.Mailbox), nil
}

func (d *Dialer) connect(account *domain.Account) (out.Mailbox, error) {
	addr := fmt.Sprintf("%s:%d", account.Server, account.Port)

	var (
		c   *client.Client
		err error
	)
	switch {
	case account.UseSSL:
		c, err = client.DialTLS(addr, &tls.Config{ServerName: account.Server})
	default:
		c, err = client.Dial(addr)
		if err == nil && account.UseStartTLS {
			err = c.StartTLS(&tls.Config{ServerName: account.Server})
			if err != nil {
				c.Logout()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.Timeout = socketTimeout

	if err := c.Login(account.Email, account.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login %s: %w", account.Email, err)
	}
	return newMailboxClient(c, account), nil
}
