// Package consent issues and redeems single-use, time-boxed authorization
// tickets that gate record admission.
package consent

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/liftedinit/medchain/internal/hasher"
	"github.com/liftedinit/medchain/internal/models"
)

// DefaultTTL is how long an issued ticket stays redeemable.
const DefaultTTL = 300 * time.Second

const otpDigits = 6

var (
	// ErrConsent is wrapped by every redemption failure.
	ErrConsent = errors.New("consent refused")

	ErrExpired     = fmt.Errorf("%w: expired or invalid consent", ErrConsent)
	ErrAlreadyUsed = fmt.Errorf("%w: consent already used", ErrConsent)
	ErrInvalidOTP  = fmt.Errorf("%w: invalid OTP", ErrConsent)
)

// Authority owns every outstanding ticket. Tickets live for the lifetime of
// the process only.
type Authority struct {
	mu      sync.Mutex
	tickets map[string]*models.ConsentTicket
	ttl     time.Duration
	now     func() time.Time
	rand    io.Reader
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// WithRandom replaces the OTP entropy source.
func WithRandom(r io.Reader) Option {
	return func(a *Authority) { a.rand = r }
}

func NewAuthority(ttl time.Duration, opts ...Option) *Authority {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	a := &Authority{
		tickets: make(map[string]*models.ConsentTicket),
		ttl:     ttl,
		now:     time.Now,
		rand:    rand.Reader,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TTL returns the lifetime of newly issued tickets.
func (a *Authority) TTL() time.Duration {
	return a.ttl
}

// Token computes the verification digest for a patient and OTP.
func Token(patientID, otp string) string {
	return hasher.SumString(patientID + otp)
}

// Issue creates a fresh ticket for patientID, replacing any existing one, and
// returns its OTP.
func (a *Authority) Issue(patientID string) (string, error) {
	if patientID == "" {
		return "", fmt.Errorf("patient id is required")
	}

	otp, err := a.generateOTP()
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.sweepLocked(now)
	a.tickets[patientID] = &models.ConsentTicket{
		PatientID: patientID,
		Token:     Token(patientID, otp),
		Expiry:    now.Add(a.ttl),
	}
	slog.Debug("Consent ticket issued", "patient", patientID, "ttl", a.ttl)

	return otp, nil
}

// Redeem consumes the ticket of patientID if otp matches. A mismatch leaves
// the ticket redeemable.
func (a *Authority) Redeem(patientID, otp string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ticket, ok := a.tickets[patientID]
	if !ok || a.now().After(ticket.Expiry) {
		return ErrExpired
	}
	if ticket.Used {
		return ErrAlreadyUsed
	}
	if Token(patientID, otp) != ticket.Token {
		return ErrInvalidOTP
	}

	ticket.Used = true
	return nil
}

// Ticket returns a copy of the current ticket of patientID.
func (a *Authority) Ticket(patientID string) (models.ConsentTicket, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.tickets[patientID]
	if !ok {
		return models.ConsentTicket{}, false
	}
	return *t, true
}

// Sweep drops every expired ticket.
func (a *Authority) Sweep() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sweepLocked(a.now())
}

func (a *Authority) sweepLocked(now time.Time) {
	for id, t := range a.tickets {
		if now.After(t.Expiry) {
			delete(a.tickets, id)
		}
	}
}

func (a *Authority) generateOTP() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(a.rand, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}
