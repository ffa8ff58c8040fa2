// Package auth implements inter-agent authentication: short-lived HS256
// tokens scoped to a target agent, plus a per-request signature header.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the lifetime of an inter-agent token.
const TokenTTL = time.Hour

// MaxTimestampSkew is how stale a request timestamp may be before rejection.
const MaxTimestampSkew = 300 * time.Second

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrAgentMismatch  = errors.New("agent id mismatch")
	ErrBadSignature   = errors.New("invalid request signature")
	ErrStaleTimestamp = errors.New("request timestamp too old")
	ErrMissingClaim   = errors.New("missing required claim")
)

// Signer mints and verifies tokens with a shared secret.
type Signer struct {
	agentID string
	secret  []byte
}

// NewSigner creates a signer for the local agent.
func NewSigner(agentID string, secret []byte) *Signer {
	return &Signer{agentID: agentID, secret: secret}
}

// Mint creates a token authorizing this agent to talk to targetAgentID.
func (s *Signer) Mint(targetAgentID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"agent_id":        s.agentID,
		"target_agent_id": targetAgentID,
		"timestamp":       now.Format(time.RFC3339),
		"iat":             now.Unix(),
		"exp":             now.Add(TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates a token and returns the sending agent's ID.
func (s *Signer) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	agentID, ok := claims["agent_id"].(string)
	if !ok || agentID == "" {
		return "", fmt.Errorf("%w: agent_id", ErrMissingClaim)
	}
	return agentID, nil
}

// Signature computes the request signature header value:
// hex(SHA-256(agent_id ":" timestamp ":" secret)).
func (s *Signer) Signature(agentID, timestamp string) string {
	sum := sha256.Sum256([]byte(agentID + ":" + timestamp + ":" + string(s.secret)))
	return hex.EncodeToString(sum[:])
}

// VerifyRequest checks the header triple accompanying a bearer token: the
// token's agent must match the header agent, the signature must match, and
// the timestamp must be within MaxTimestampSkew of now.
func (s *Signer) VerifyRequest(tokenString, headerAgentID, timestamp, signature string) (string, error) {
	tokenAgentID, err := s.Verify(tokenString)
	if err != nil {
		return "", err
	}
	if tokenAgentID != headerAgentID {
		return "", ErrAgentMismatch
	}
	if s.Signature(headerAgentID, timestamp) != signature {
		return "", ErrBadSignature
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStaleTimestamp, err)
	}
	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxTimestampSkew {
		return "", ErrStaleTimestamp
	}
	return tokenAgentID, nil
}
