package federation

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PeerClaims is carried inside a federation trust token. Unlike a
// human-operator session token, it identifies a peer process and the trust
// level the operator granted it out-of-band, not a logged-in user.
type PeerClaims struct {
	PeerID string
	Trust  TrustLevel
}

var (
	ErrInvalidToken     = errors.New("federation: invalid peer trust token")
	ErrUnexpectedMethod = errors.New("federation: unexpected token signing method")
	ErrTokenExpired     = errors.New("federation: peer trust token expired")
)

// TrustManager issues and verifies signed peer-trust tokens, and caches a
// verified peer's claims for the lifetime of its connection so the
// privileged channel doesn't re-verify a signature on every message.
type TrustManager struct {
	secret []byte
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cachedClaims
}

type cachedClaims struct {
	claims    PeerClaims
	expiresAt time.Time
}

// NewTrustManager creates a TrustManager that signs/verifies with secret and
// issues tokens valid for ttl.
func NewTrustManager(secret []byte, ttl time.Duration) *TrustManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TrustManager{
		secret: secret,
		ttl:    ttl,
		cache:  make(map[string]cachedClaims),
	}
}

// IssueToken signs a new trust token for peerID at the given trust level.
func (m *TrustManager) IssueToken(peerID string, trust TrustLevel) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"peer_id": peerID,
		"trust":   int(trust),
		"iat":     now.Unix(),
		"exp":     now.Add(m.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// VerifyToken validates tokenString's signature and expiry and returns the
// peer identity and trust level it carries. A prior successful verification
// for the same token string is served from cache rather than re-parsed.
func (m *TrustManager) VerifyToken(tokenString string) (PeerClaims, error) {
	m.mu.RLock()
	if cached, ok := m.cache[tokenString]; ok {
		m.mu.RUnlock()
		if time.Now().Before(cached.expiresAt) {
			return cached.claims, nil
		}
	} else {
		m.mu.RUnlock()
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedMethod
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return PeerClaims{}, ErrTokenExpired
		}
		return PeerClaims{}, ErrInvalidToken
	}
	if !token.Valid {
		return PeerClaims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return PeerClaims{}, ErrInvalidToken
	}

	peerID, ok := claims["peer_id"].(string)
	if !ok {
		return PeerClaims{}, ErrInvalidToken
	}
	trustRaw, ok := claims["trust"].(float64)
	if !ok {
		return PeerClaims{}, ErrInvalidToken
	}
	expRaw, ok := claims["exp"].(float64)
	if !ok {
		return PeerClaims{}, ErrInvalidToken
	}

	expiresAt := time.Unix(int64(expRaw), 0)
	if time.Now().After(expiresAt) {
		return PeerClaims{}, ErrTokenExpired
	}

	result := PeerClaims{
		PeerID: peerID,
		Trust:  TrustLevel(int(trustRaw)),
	}

	m.mu.Lock()
	m.cache[tokenString] = cachedClaims{claims: result, expiresAt: expiresAt}
	m.mu.Unlock()

	return result, nil
}

// Forget drops a token's cached verification, e.g. when its connection
// closes.
func (m *TrustManager) Forget(tokenString string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, tokenString)
}
