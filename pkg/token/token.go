// Package token owns the anonymous device token: a one-way derived
// identifier with no reversible link to the device or user. The token is
// minted once and persisted through the secure store; only this package
// touches the record.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/imanology1/securus-agent/pkg/store"
)

const storeKey = "device.token.v1"

// Prefix marks the token encoding on the wire.
const Prefix = "sha256:"

// Generator mints and caches the device token.
type Generator struct {
	mu    sync.Mutex
	st    store.Store
	token string
}

func NewGenerator(st store.Store) *Generator {
	return &Generator{st: st}
}

// Token returns the persistent anonymous token, creating it on first use.
// A storage failure degrades to an ephemeral in-memory token rather than
// surfacing an error to detection paths.
func (g *Generator) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" {
		return g.token
	}
	if raw, err := g.st.Get(storeKey); err == nil {
		if t := string(raw); valid(t) {
			g.token = t
			return g.token
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		// Unreadable record: fall through and mint a fresh one.
	}
	t, err := mint()
	if err != nil {
		// crypto/rand failing is effectively unrecoverable; derive from
		// nothing rather than crash the host.
		t = Prefix + hex.EncodeToString(make([]byte, 32))
	}
	g.token = t
	_ = g.st.Set(storeKey, []byte(t))
	return g.token
}

// Reset discards the persisted token; the next Token call mints a new one.
func (g *Generator) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = ""
	return g.st.Delete(storeKey)
}

func mint() (string, error) {
	seed := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return "", fmt.Errorf("token: seed: %w", err)
	}
	// HKDF decouples the emitted token from the raw seed material.
	r := hkdf.New(sha256.New, seed, []byte("securus-device-token"), nil)
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", fmt.Errorf("token: derive: %w", err)
	}
	sum := sha256.Sum256(out)
	return Prefix + hex.EncodeToString(sum[:]), nil
}

func valid(t string) bool {
	if !strings.HasPrefix(t, Prefix) {
		return false
	}
	h := strings.TrimPrefix(t, Prefix)
	if len(h) != 64 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}
