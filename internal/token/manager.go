// Package token implements the agent's token manager (spec.md §4.3): it
// holds the current token and device keypair, and collapses concurrent
// refreshes into one in-flight call via singleflight, the same primitive
// internal/cache uses for read-through deduplication.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/miruml/agent/internal/agenterr"
	"github.com/miruml/agent/internal/crypt"
	"github.com/miruml/agent/internal/model"
)

// Requester is the subset of httpclient.Client the token manager needs.
// Declared here (not imported from httpclient) to avoid an import cycle,
// since httpclient.Client itself depends on a TokenProvider.
type Requester interface {
	RequestToken(ctx context.Context, deviceID, publicKeyHex, challenge, signatureHex string) (model.Token, error)
}

// Manager holds the current token and refreshes it on demand.
type Manager struct {
	deviceID string
	signer   *crypt.Signer
	client   Requester
	skew     time.Duration

	mu    sync.RWMutex
	token model.Token

	sf singleflight.Group
}

// NewManager builds a Manager for deviceID, signing refresh challenges with
// signer and calling client to obtain new tokens. skew is the safety margin
// subtracted from expires_at before a cached token is considered usable.
func NewManager(deviceID string, signer *crypt.Signer, client Requester, skew time.Duration) *Manager {
	return &Manager{
		deviceID: deviceID,
		signer:   signer,
		client:   client,
		skew:     skew,
	}
}

// GetToken returns the cached token if it has more than skew remaining
// before expiry, otherwise performs a refresh. Concurrent calls during a
// refresh collapse into the single in-flight request.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	cur := m.token
	m.mu.RUnlock()

	if cur.Token != "" && time.Until(cur.ExpiresAt) > m.skew {
		return cur.Token, nil
	}

	result, err, _ := m.sf.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(model.Token).Token, nil
}

func (m *Manager) refresh(ctx context.Context) (model.Token, error) {
	// Re-check under the singleflight key: another goroutine may have
	// already refreshed while we were waiting to enter this function.
	m.mu.RLock()
	cur := m.token
	m.mu.RUnlock()
	if cur.Token != "" && time.Until(cur.ExpiresAt) > m.skew {
		return cur, nil
	}

	challenge := fmt.Sprintf("%s:%d", m.deviceID, time.Now().UnixNano())
	sigHex := m.signer.Sign([]byte(challenge))

	tok, err := m.client.RequestToken(ctx, m.deviceID, m.signer.PublicKeyHex(), challenge, sigHex)
	if err != nil {
		return model.Token{}, agenterr.Wrap(agenterr.KindHTTPTransient, "token.refresh", err)
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()
	return tok, nil
}
