// Package tlsmgr issues and serves the TLS certificate cmd/rc-server uses
// when RC_TLS_DOMAIN/RC_TLS_ACME_EMAIL are set, adapted from the teacher's
// pkg/acme/client.go multi-domain gateway certificate manager down to the
// single-domain case this service actually needs: one control-plane
// hostname, one certificate. Issuance or renewal happens only when
// EnsureCertificate is called; no background renewal runs.
package tlsmgr

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// Client manages a single ACME-issued certificate for one domain.
type Client struct {
	domain     string
	cacheDir   string
	legoClient *lego.Client
	user       *acmeUser
	challenge  *http01Provider

	mu   sync.RWMutex
	cert *tls.Certificate
	meta *certMeta
}

type acmeUser struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

type certMeta struct {
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
}

// New builds a Client, loading or registering an ACME account under
// cacheDir and loading any certificate already cached there. directoryURL
// overrides the CA directory (for example a local pebble/step-ca
// instance); empty means Let's Encrypt production.
func New(domain, email, cacheDir, directoryURL string) (*Client, error) {
	if domain == "" {
		return nil, fmt.Errorf("tlsmgr: domain is required")
	}
	if email == "" {
		return nil, fmt.Errorf("tlsmgr: ACME email is required")
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("tlsmgr: create cache dir: %w", err)
	}

	c := &Client{domain: domain, cacheDir: cacheDir}

	user, err := c.loadOrCreateUser(email)
	if err != nil {
		return nil, fmt.Errorf("tlsmgr: load/create ACME user: %w", err)
	}
	c.user = user

	legoCfg := lego.NewConfig(user)
	if directoryURL != "" {
		legoCfg.CADirURL = directoryURL
	} else {
		legoCfg.CADirURL = lego.LEDirectoryProduction
	}

	legoClient, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("tlsmgr: create lego client: %w", err)
	}
	c.legoClient = legoClient

	c.challenge = newHTTP01Provider()
	if err := legoClient.Challenge.SetHTTP01Provider(c.challenge); err != nil {
		return nil, fmt.Errorf("tlsmgr: set up HTTP-01 provider: %w", err)
	}

	if user.Registration == nil {
		reg, err := legoClient.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("tlsmgr: register ACME account: %w", err)
		}
		user.Registration = reg
		if err := c.saveUser(user); err != nil {
			return nil, fmt.Errorf("tlsmgr: save ACME account: %w", err)
		}
	}

	c.loadCachedCertificate()

	return c, nil
}

// EnsureCertificate issues a certificate if none is cached, or renews one
// that is within 30 days of expiry.
func (c *Client) EnsureCertificate() error {
	c.mu.RLock()
	meta := c.meta
	c.mu.RUnlock()

	if meta != nil && time.Now().Before(meta.NotAfter.Add(-30*24*time.Hour)) {
		return nil
	}

	result, err := c.legoClient.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{c.domain},
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("tlsmgr: obtain certificate for %s: %w", c.domain, err)
	}

	cert, m, err := c.saveCertificate(result)
	if err != nil {
		return fmt.Errorf("tlsmgr: save certificate for %s: %w", c.domain, err)
	}

	c.mu.Lock()
	c.cert = cert
	c.meta = m
	c.mu.Unlock()

	return nil
}

// ChallengeHandler serves HTTP-01 challenge responses; mount it on the
// plaintext :80 listener cmd/rc-server opens while a certificate is
// outstanding.
func (c *Client) ChallengeHandler() http.Handler {
	return c.challenge
}

// GetCertificate implements tls.Config.GetCertificate, returning the
// currently cached certificate regardless of the requested SNI — this
// service terminates exactly one hostname.
func (c *Client) GetCertificate(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cert == nil {
		return nil, fmt.Errorf("tlsmgr: no certificate cached for %s", c.domain)
	}
	return c.cert, nil
}

func (c *Client) certPath() string   { return filepath.Join(c.cacheDir, c.domain+".crt") }
func (c *Client) keyPath() string    { return filepath.Join(c.cacheDir, c.domain+".key") }
func (c *Client) issuerPath() string { return filepath.Join(c.cacheDir, c.domain+".issuer.crt") }
func (c *Client) metaPath() string   { return filepath.Join(c.cacheDir, c.domain+".meta.json") }

func (c *Client) saveCertificate(res *certificate.Resource) (*tls.Certificate, *certMeta, error) {
	if err := os.WriteFile(c.certPath(), res.Certificate, 0644); err != nil {
		return nil, nil, fmt.Errorf("write cert: %w", err)
	}
	if err := os.WriteFile(c.keyPath(), res.PrivateKey, 0600); err != nil {
		return nil, nil, fmt.Errorf("write key: %w", err)
	}
	if err := os.WriteFile(c.issuerPath(), res.IssuerCertificate, 0644); err != nil {
		return nil, nil, fmt.Errorf("write issuer cert: %w", err)
	}

	block, _ := pem.Decode(res.Certificate)
	if block == nil {
		return nil, nil, fmt.Errorf("decode certificate PEM")
	}
	x509Cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse certificate: %w", err)
	}
	meta := &certMeta{NotBefore: x509Cert.NotBefore, NotAfter: x509Cert.NotAfter}
	metaRaw, _ := json.Marshal(meta)
	_ = os.WriteFile(c.metaPath(), metaRaw, 0644)

	cert, err := tls.LoadX509KeyPair(c.certPath(), c.keyPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load key pair: %w", err)
	}
	return &cert, meta, nil
}

func (c *Client) loadCachedCertificate() {
	if !fileExists(c.certPath()) || !fileExists(c.keyPath()) {
		return
	}
	cert, err := tls.LoadX509KeyPair(c.certPath(), c.keyPath())
	if err != nil {
		return
	}

	meta := &certMeta{}
	if raw, err := os.ReadFile(c.metaPath()); err == nil {
		_ = json.Unmarshal(raw, meta)
	} else if len(cert.Certificate) > 0 {
		if x509Cert, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			meta.NotBefore, meta.NotAfter = x509Cert.NotBefore, x509Cert.NotAfter
		}
	}

	c.mu.Lock()
	c.cert = &cert
	c.meta = meta
	c.mu.Unlock()
}

func (c *Client) loadOrCreateUser(email string) (*acmeUser, error) {
	userPath := filepath.Join(c.cacheDir, "user.json")
	keyPath := filepath.Join(c.cacheDir, "user.key")

	if fileExists(userPath) && fileExists(keyPath) {
		data, err := os.ReadFile(userPath)
		if err != nil {
			return nil, fmt.Errorf("read user file: %w", err)
		}
		var user acmeUser
		if err := json.Unmarshal(data, &user); err != nil {
			return nil, fmt.Errorf("parse user file: %w", err)
		}
		keyData, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read user key: %w", err)
		}
		block, _ := pem.Decode(keyData)
		if block == nil {
			return nil, fmt.Errorf("decode user key")
		}
		priv, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse user key: %w", err)
		}
		user.key = priv
		return &user, nil
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate user key: %w", err)
	}
	user := &acmeUser{Email: email, key: priv}
	return user, c.saveUser(user)
}

func (c *Client) saveUser(user *acmeUser) error {
	userPath := filepath.Join(c.cacheDir, "user.json")
	keyPath := filepath.Join(c.cacheDir, "user.key")

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := os.WriteFile(userPath, data, 0600); err != nil {
		return fmt.Errorf("write user file: %w", err)
	}

	priv := user.key.(*ecdsa.PrivateKey)
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal user key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("write user key: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
