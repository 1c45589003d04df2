package httpapi

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/config"
)

// tokenCacheTTL bounds how long a validated token skips revalidation.
const tokenCacheTTL = time.Hour

// Authenticator validates bearer tokens against a literal token list
// or a JWT issuer.
type Authenticator struct {
	cfg    config.Auth
	keys   *jwksCache
	logger *zap.Logger

	mu        sync.Mutex
	validated map[string]time.Time
	lastPurge time.Time
}

// NewAuthenticator builds an authenticator for the given auth
// configuration.
func NewAuthenticator(cfg config.Auth, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		cfg:       cfg,
		keys:      newJWKSCache(cfg.JWKSURI),
		logger:    logger,
		validated: map[string]time.Time{},
		lastPurge: time.Now(),
	}
}

// Middleware rejects requests without an acceptable bearer token.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || !a.accept(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing bearer token"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func (a *Authenticator) accept(token string) bool {
	for _, t := range a.cfg.TokenList {
		if token == t {
			return true
		}
	}
	if a.cfg.IssuerURL == "" {
		return false
	}
	if a.cached(token) {
		return true
	}
	if err := a.validateJWT(token); err != nil {
		a.logger.Debug("rejected bearer token", zap.Error(err))
		return false
	}
	a.remember(token)
	return true
}

func (a *Authenticator) cached(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.purgeLocked()
	exp, ok := a.validated[token]
	return ok && time.Now().Before(exp)
}

func (a *Authenticator) remember(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.validated[token] = time.Now().Add(tokenCacheTTL)
}

// purgeLocked drops expired entries at most once per hour.
func (a *Authenticator) purgeLocked() {
	now := time.Now()
	if now.Sub(a.lastPurge) < time.Hour {
		return
	}
	a.lastPurge = now
	for t, exp := range a.validated {
		if now.After(exp) {
			delete(a.validated, t)
		}
	}
}

// registryClaims are the claims the registry validates beyond the
// standard ones.
type registryClaims struct {
	jwt.RegisteredClaims
	AppID string `json:"appid,omitempty"`
	Scope string `json:"scope,omitempty"`
	Email string `json:"email,omitempty"`
}

func (a *Authenticator) validateJWT(token string) error {
	claims := &registryClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, a.keys.keyFor,
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("token is not valid")
	}
	if claims.Issuer != a.cfg.IssuerURL {
		return fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return fmt.Errorf("token lacks iat or exp")
	}
	if err := matchList(a.cfg.Audiences, claims.Audience, "aud"); err != nil {
		return err
	}
	if err := matchValue(a.cfg.AppIDs, claims.AppID, "appid"); err != nil {
		return err
	}
	if err := matchList(a.cfg.Scopes, strings.Fields(claims.Scope), "scope"); err != nil {
		return err
	}
	if err := matchValue(a.cfg.Emails, claims.Email, "email"); err != nil {
		return err
	}
	return matchValue(a.cfg.Subjects, claims.Subject, "sub")
}

// matchValue passes when no values are required or the claim is one of
// them.
func matchValue(required []string, claim, name string) error {
	if len(required) == 0 {
		return nil
	}
	for _, r := range required {
		if claim == r {
			return nil
		}
	}
	return fmt.Errorf("claim %s %q is not accepted", name, claim)
}

// matchList passes when any claimed value is in the required set.
func matchList(required, claimed []string, name string) error {
	if len(required) == 0 {
		return nil
	}
	for _, r := range required {
		for _, c := range claimed {
			if r == c {
				return nil
			}
		}
	}
	return fmt.Errorf("no accepted %s claim present", name)
}

// jwksCache fetches and caches the issuer's signing keys.
type jwksCache struct {
	uri string

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func newJWKSCache(uri string) *jwksCache {
	return &jwksCache{uri: uri, keys: map[string]*rsa.PublicKey{}}
}

// keyFor is a jwt.Keyfunc resolving the token's kid against the JWKS.
func (j *jwksCache) keyFor(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token has no kid header")
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if key, ok := j.keys[kid]; ok {
		return key, nil
	}
	// Unknown kid: refresh at most once per minute.
	if time.Since(j.fetched) < time.Minute {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	if err := j.refreshLocked(); err != nil {
		return nil, err
	}
	if key, ok := j.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

func (j *jwksCache) refreshLocked() error {
	if j.uri == "" {
		return fmt.Errorf("no JWKS URI configured")
	}
	res, err := http.Get(j.uri)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch JWKS: status %d", res.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode JWKS: %w", err)
	}

	keys := map[string]*rsa.PublicKey{}
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}
	j.keys = keys
	j.fetched = time.Now()
	return nil
}
