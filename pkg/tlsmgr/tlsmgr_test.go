package tlsmgr

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientPathsAreScopedToCacheDirAndDomain(t *testing.T) {
	c := &Client{domain: "rc.example.com", cacheDir: t.TempDir()}
	require.Contains(t, c.certPath(), "rc.example.com.crt")
	require.Contains(t, c.keyPath(), "rc.example.com.key")
	require.Contains(t, c.issuerPath(), "rc.example.com.issuer.crt")
}

func TestCertMetaExpiryWindow(t *testing.T) {
	fresh := &certMeta{NotAfter: time.Now().Add(60 * 24 * time.Hour)}
	require.True(t, time.Now().Before(fresh.NotAfter.Add(-30*24*time.Hour)))

	expiring := &certMeta{NotAfter: time.Now().Add(10 * 24 * time.Hour)}
	require.False(t, time.Now().Before(expiring.NotAfter.Add(-30*24*time.Hour)))
}

func TestHTTP01ProviderServesPresentedChallenge(t *testing.T) {
	p := newHTTP01Provider()
	require.NoError(t, p.Present("rc.example.com", "tok123", "tok123.keyauth"))

	req := httptest.NewRequest("GET", challengePrefix+"tok123", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "tok123.keyauth", rec.Body.String())
}

func TestHTTP01ProviderReturns404AfterCleanup(t *testing.T) {
	p := newHTTP01Provider()
	require.NoError(t, p.Present("rc.example.com", "tok456", "tok456.keyauth"))
	require.NoError(t, p.CleanUp("rc.example.com", "tok456", "tok456.keyauth"))

	req := httptest.NewRequest("GET", challengePrefix+"tok456", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, 404, rec.Code)
}

func TestGetCertificateFailsWithoutIssuedCert(t *testing.T) {
	c := &Client{domain: "rc.example.com"}
	_, err := c.GetCertificate(nil)
	require.Error(t, err)
}
