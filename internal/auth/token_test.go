package auth

import (
	"errors"
	"testing"
	"time"
)

func TestMintAndVerify(t *testing.T) {
	s := NewSigner("agent-a", []byte("secret"))
	token, err := s.Mint("agent-b")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	agentID, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if agentID != "agent-a" {
		t.Fatalf("agent = %q", agentID)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewSigner("agent-a", []byte("secret")).Mint("agent-b")
	if err != nil {
		t.Fatal(err)
	}
	other := NewSigner("agent-b", []byte("different"))
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := NewSigner("agent-a", []byte("secret"))
	if _, err := s.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestSignatureIsDeterministic(t *testing.T) {
	s := NewSigner("agent-a", []byte("secret"))
	ts := time.Now().UTC().Format(time.RFC3339)
	if s.Signature("agent-a", ts) != s.Signature("agent-a", ts) {
		t.Fatal("signature not deterministic")
	}
	if s.Signature("agent-a", ts) == s.Signature("agent-b", ts) {
		t.Fatal("signature must bind the agent id")
	}
}

func TestVerifyRequest(t *testing.T) {
	s := NewSigner("agent-a", []byte("secret"))
	token, err := s.Mint("agent-b")
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	sig := s.Signature("agent-a", ts)

	t.Run("valid", func(t *testing.T) {
		agentID, err := s.VerifyRequest(token, "agent-a", ts, sig)
		if err != nil {
			t.Fatalf("VerifyRequest: %v", err)
		}
		if agentID != "agent-a" {
			t.Fatalf("agent = %q", agentID)
		}
	})

	t.Run("agent mismatch", func(t *testing.T) {
		if _, err := s.VerifyRequest(token, "agent-z", ts, sig); !errors.Is(err, ErrAgentMismatch) {
			t.Fatalf("err = %v, want ErrAgentMismatch", err)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		if _, err := s.VerifyRequest(token, "agent-a", ts, "deadbeef"); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("err = %v, want ErrBadSignature", err)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := time.Now().UTC().Add(-2 * MaxTimestampSkew).Format(time.RFC3339)
		oldSig := s.Signature("agent-a", old)
		if _, err := s.VerifyRequest(token, "agent-a", old, oldSig); !errors.Is(err, ErrStaleTimestamp) {
			t.Fatalf("err = %v, want ErrStaleTimestamp", err)
		}
	})

	t.Run("unparseable timestamp", func(t *testing.T) {
		badSig := s.Signature("agent-a", "yesterday")
		if _, err := s.VerifyRequest(token, "agent-a", "yesterday", badSig); !errors.Is(err, ErrStaleTimestamp) {
			t.Fatalf("err = %v, want ErrStaleTimestamp", err)
		}
	})
}
