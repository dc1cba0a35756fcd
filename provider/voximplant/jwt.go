package voximplant

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/openclaw/voicebridge/verr"
)

// sentinel values for ManagementJWT that force service-account mode instead
// of being treated as a literal (mis-copied) static token.
var autoSentinels = map[string]bool{
	"AUTO":                  true,
	"__AUTO__":              true,
	"__SERVICE_ACCOUNT__":   true,
}

// serviceAccountClaims is the RS256 claim set Voximplant's Management API
// expects: iss=accountId, kid=keyId in the header, iat/exp a 1h window.
type serviceAccountClaims struct {
	jwt.RegisteredClaims
}

// jwtSource resolves a management-API bearer token, either a static
// operator-supplied JWT or a cached, freshly-minted RS256 service-account
// token. Grounded on imshanimaurya-telecom-platform/internal/auth.Manager's
// claims-struct + cached-token-with-expiry-check shape, swapped from HS256
// session tokens to RS256 service-account tokens per spec.md §4.5.
type jwtSource struct {
	static string // non-empty and non-sentinel => always return this

	accountID      string
	keyID          string
	privateKey     *rsaPrivateKeyHolder
	refreshSkewSec int

	mu      sync.Mutex
	cached  string
	expires time.Time
}

func newJWTSource(managementJWT, accountID, keyID, privateKeyPEM string, refreshSkewSec int) (*jwtSource, error) {
	if managementJWT != "" && !autoSentinels[managementJWT] {
		return &jwtSource{static: managementJWT}, nil
	}

	if accountID == "" || keyID == "" || privateKeyPEM == "" {
		return nil, verr.New(verr.CredentialMissing, "voximplant requires either ManagementJWT or AccountID+KeyID+PrivateKey")
	}
	key, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, verr.Wrap(verr.CredentialMissing, "voximplant private key invalid", err)
	}
	if refreshSkewSec <= 0 {
		refreshSkewSec = 60
	}
	return &jwtSource{
		accountID:      accountID,
		keyID:          keyID,
		privateKey:     key,
		refreshSkewSec: refreshSkewSec,
	}, nil
}

// isServiceAccount reports whether this source mints its own tokens (as
// opposed to replaying a static one).
func (s *jwtSource) isServiceAccount() bool { return s.static == "" }

// Token returns a valid bearer token, minting (and caching) a fresh one
// when the cached token is within refreshSkewSec of expiry.
func (s *jwtSource) Token() (string, error) {
	if !s.isServiceAccount() {
		return s.static, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.cached != "" && now.Before(s.expires.Add(-time.Duration(s.refreshSkewSec)*time.Second)) {
		return s.cached, nil
	}
	return s.mintLocked(now)
}

// Invalidate forces the next Token() call to mint a fresh token, used after
// a 401 from the Management API.
func (s *jwtSource) Invalidate() {
	if !s.isServiceAccount() {
		return
	}
	s.mu.Lock()
	s.cached = ""
	s.mu.Unlock()
}

func (s *jwtSource) mintLocked(now time.Time) (string, error) {
	claims := serviceAccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.privateKey.key)
	if err != nil {
		return "", verr.Wrap(verr.CredentialMissing, "failed to sign voximplant service-account jwt", err)
	}
	s.cached = signed
	s.expires = now.Add(time.Hour)
	return signed, nil
}
