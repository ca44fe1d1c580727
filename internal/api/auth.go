package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// ticketBytes is the number of random bytes used for WebSocket tickets.
	ticketBytes = 32

	tokenIssuer = "graytap"
)

// IssueToken signs an HS256 bearer token for subject.
//
// Parameters:
//   - secret: Shared signing secret (security.jwt.secret)
//   - subject: Who the token is for; recorded as "sub"
//   - ttl: Token lifetime
//
// Returns:
//   - string: Signed token
//   - error: If signing fails
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates an HS256 token and returns its subject.
func ParseToken(secret, raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	return claims.Subject, nil
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]time.Time
	mu      sync.Mutex
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]time.Time)}
}

// issue creates a ticket valid until now+ticketTTL.
func (t *ticketStore) issue() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	t.mu.Lock()
	t.tickets[ticket] = time.Now().Add(ticketTTL)
	t.mu.Unlock()
	return ticket
}

// redeem checks a ticket and consumes it.
func (t *ticketStore) redeem(ticket string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	expires, ok := t.tickets[ticket]
	if !ok {
		return false
	}
	delete(t.tickets, ticket)
	return time.Now().Before(expires)
}

// sweep drops expired tickets.
func (t *ticketStore) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ticket, expires := range t.tickets {
		if now.After(expires) {
			delete(t.tickets, ticket)
		}
	}
}

func (t *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.sweep(now)
		}
	}
}

// handleWSTicket issues a single-use WebSocket ticket so the bearer token
// never appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(),
		"expires_in": int(ticketTTL.Seconds()),
	})
}
