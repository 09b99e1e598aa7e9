package tlsmgr

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

const challengePrefix = "/.well-known/acme-challenge/"

// http01Provider answers HTTP-01 challenges, carried over verbatim from the
// teacher's pkg/acme/http01.go — the challenge/response bookkeeping has
// nothing domain-specific to adapt.
type http01Provider struct {
	mu         sync.RWMutex
	challenges map[string]string
}

func newHTTP01Provider() *http01Provider {
	return &http01Provider{challenges: make(map[string]string)}
}

func (p *http01Provider) Present(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.challenges[token] = keyAuth
	return nil
}

func (p *http01Provider) CleanUp(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.challenges, token)
	return nil
}

// ServeHTTP serves /.well-known/acme-challenge/{token}; mount it on
// cmd/rc-server's plaintext :80 listener during certificate issuance.
func (p *http01Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, challengePrefix) {
		http.NotFound(w, r)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, challengePrefix)
	if token == "" {
		http.NotFound(w, r)
		return
	}

	p.mu.RLock()
	keyAuth, ok := p.challenges[token]
	p.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, keyAuth)
}
