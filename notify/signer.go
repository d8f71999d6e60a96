package notify

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"oracleflow/bytes32"
)

// Claims is the signed envelope recipients verify before trusting a notification.
type Claims struct {
	Kind        Kind   `json:"kind"`
	AssertionID string `json:"assertion_id"`
	Truthful    *bool  `json:"truthful,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues EdDSA tokens under the assertion engine's identity.
type Signer struct {
	issuer string
	key    ed25519.PrivateKey
}

// NewSigner builds a signer from a hex-encoded 32-byte seed. An empty seed generates a fresh key.
func NewSigner(issuer, seedHex string) (*Signer, error) {
	if seedHex == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("notify: generate key: %w", err)
		}
		return &Signer{issuer: issuer, key: key}, nil
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, errors.New("notify: signing seed must be 32 hex-encoded bytes")
	}
	return &Signer{issuer: issuer, key: ed25519.NewKeyFromSeed(seed)}, nil
}

// PublicKey is what recipients pin.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

func (s *Signer) Issuer() string { return s.issuer }

func (s *Signer) Sign(n Notification) (string, error) {
	issued := n.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	claims := Claims{
		Kind:        n.Kind,
		AssertionID: n.AssertionID.String(),
		Truthful:    n.Truthful,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   n.AssertionID.String(),
			Audience:  jwt.ClaimStrings{n.Recipient},
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("notify: sign: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and audience of a notification token.
func Verify(tokenString string, pub ed25519.PublicKey, issuer, recipient string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("notify: unexpected signing method %v", token.Header["alg"])
		}
		return pub, nil
	}, jwt.WithIssuer(issuer), jwt.WithAudience(recipient))
	if err != nil {
		return Claims{}, fmt.Errorf("notify: verify: %w", err)
	}
	if !token.Valid {
		return Claims{}, errors.New("notify: invalid token")
	}
	if _, err := bytes32.Parse(claims.AssertionID); err != nil {
		return Claims{}, fmt.Errorf("notify: verify: %w", err)
	}
	return claims, nil
}
