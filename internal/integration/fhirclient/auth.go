package fhirclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/interop/interop/internal/domain/system"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// applyAuth decorates an outbound request with the system's credentials.
func (c *Client) applyAuth(ctx context.Context, req *http.Request, s *system.System) error {
	switch s.AuthKind {
	case system.AuthNone, system.AuthMutualTLS, "":
		// Mutual TLS authenticates at the transport layer, see clientFor.
		return nil
	case system.AuthBasic:
		user := s.AuthValue("username")
		pass := s.AuthValue("password")
		if user == "" || pass == "" {
			return &ConfigError{System: s.Name, Reason: "basic auth requires username and password"}
		}
		req.SetBasicAuth(user, pass)
		return nil
	case system.AuthBearer:
		token := s.AuthValue("token")
		if token == "" {
			return &ConfigError{System: s.Name, Reason: "bearer auth requires a token"}
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	case system.AuthOAuth2:
		token := s.AuthValue("access_token")
		if token == "" {
			return &ConfigError{System: s.Name, Reason: "oauth2 auth requires an access_token"}
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	case system.AuthClientCredentials:
		token, err := c.clientCredentialsToken(ctx, s)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	default:
		return &ConfigError{System: s.Name, Reason: "unknown auth kind " + s.AuthKind}
	}
}

// clientCredentialsToken obtains an access token via the SMART Backend
// Services flow: an RS384-signed JWT assertion exchanged at the system's
// token endpoint. Tokens are cached until shortly before expiry.
func (c *Client) clientCredentialsToken(ctx context.Context, s *system.System) (string, error) {
	c.tokenMu.Lock()
	if ct, ok := c.tokens[s.ID]; ok && time.Now().Before(ct.expiresAt) {
		c.tokenMu.Unlock()
		return ct.token, nil
	}
	c.tokenMu.Unlock()

	clientID := s.AuthValue("client_id")
	tokenURL := s.AuthValue("token_url")
	privateKeyPEM := s.AuthValue("private_key")
	if clientID == "" || tokenURL == "" || privateKeyPEM == "" {
		return "", &ConfigError{System: s.Name,
			Reason: "client-credentials auth requires client_id, token_url, and private_key"}
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return "", &ConfigError{System: s.Name, Reason: fmt.Sprintf("parsing private key: %v", err)}
	}

	now := time.Now()
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS384, jwt.MapClaims{
		"iss": clientID,
		"sub": clientID,
		"aud": tokenURL,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	})
	signed, err := assertion.SignedString(key)
	if err != nil {
		return "", &ConfigError{System: s.Name, Reason: fmt.Sprintf("signing assertion: %v", err)}
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {signed},
	}
	if scope := s.AuthValue("scope"); scope != "" {
		form.Set("scope", scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.clientFor(s).Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ConfigError{System: s.Name,
			Reason: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &ConfigError{System: s.Name, Reason: fmt.Sprintf("decoding token response: %v", err)}
	}
	if body.AccessToken == "" {
		return "", &ConfigError{System: s.Name, Reason: "token endpoint returned no access_token"}
	}

	expiresIn := body.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 300
	}
	c.tokenMu.Lock()
	c.tokens[s.ID] = cachedToken{
		token: body.AccessToken,
		// Refresh 30s early to avoid using a token at the edge of expiry.
		expiresAt: now.Add(time.Duration(expiresIn-30) * time.Second),
	}
	c.tokenMu.Unlock()
	return body.AccessToken, nil
}

// clientFor returns the HTTP client for a system. Mutual-TLS systems get a
// dedicated client carrying their certificate; everything else shares the
// default client.
func (c *Client) clientFor(s *system.System) *http.Client {
	if s.AuthKind != system.AuthMutualTLS {
		return c.httpClient
	}

	c.tlsMu.Lock()
	defer c.tlsMu.Unlock()
	if hc, ok := c.tlsClients[s.ID]; ok {
		return hc
	}

	certPEM := s.AuthValue("client_cert")
	keyPEM := s.AuthValue("client_key")
	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		c.logger.Error().Err(err).Str("system", s.Name).Msg("loading mutual TLS key pair")
		return c.httpClient
	}

	hc := &http.Client{
		Timeout: c.httpClient.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		},
	}
	c.tlsClients[s.ID] = hc
	return hc
}
