package assertion

import (
	"crypto/sha256"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/multiformats/go-multihash"

	"oracleflow/bytes32"
)

func TestFingerprintCoversInputs(t *testing.T) {
	base := Input{
		Claim:      bytes32.MustFromString("claim"),
		Asserter:   "alice",
		Caller:     "alice",
		Currency:   "usdc",
		Bond:       uint256.NewInt(1000),
		Liveness:   time.Hour,
		Identifier: bytes32.MustFromString("ASSERT_TRUTH"),
	}
	id := Fingerprint(base, 42)
	if id != Fingerprint(base, 42) {
		t.Fatal("fingerprint is not deterministic")
	}

	variants := map[string]func(*Input){
		"asserter": func(in *Input) { in.Asserter = "bob" },
		"caller":   func(in *Input) { in.Caller = "bob" },
		"bond":     func(in *Input) { in.Bond = uint256.NewInt(1001) },
		"liveness": func(in *Input) { in.Liveness = 2 * time.Hour },
		"callback": func(in *Input) { in.CallbackRecipient = "consumer" },
		"manager":  func(in *Input) { in.EscalationManager = "manager" },
		"currency": func(in *Input) { in.Currency = "dai" },
	}
	for name, mutate := range variants {
		in := base
		mutate(&in)
		if Fingerprint(in, 42) == id {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}
	if Fingerprint(base, 43) == id {
		t.Error("assertion time not covered")
	}
}

func TestAncillaryFormat(t *testing.T) {
	id := bytes32.MustFromString("id")
	claim := bytes32.MustFromString("claim")
	got := string(Ancillary(id, "alice", claim, bytes32.Zero))
	want := "assertionId:" + id.String() + ",ooAsserter:alice,claim:" + claim.String() + ",domainId:" + strings.Repeat("0", 64)
	if got != want {
		t.Fatalf("ancillary = %q, want %q", got, want)
	}
}

func TestClaimFromContent(t *testing.T) {
	content := []byte("ETH/USD closed above 3000 on 2024-01-01")
	claim, c, err := ClaimFromContent(content)
	if err != nil {
		t.Fatalf("claim from content: %v", err)
	}
	if sum := sha256.Sum256(content); claim != bytes32.ID(sum) {
		t.Fatalf("claim %s is not the sha2-256 digest", claim)
	}

	fromCID, err := ParseClaim(c.String())
	if err != nil || fromCID != claim {
		t.Fatalf("parse cid = %s, %v", fromCID, err)
	}
	fromHex, err := ParseClaim(claim.String())
	if err != nil || fromHex != claim {
		t.Fatalf("parse hex = %s, %v", fromHex, err)
	}
}

func TestClaimRejectsShortDigests(t *testing.T) {
	mh, err := multihash.Sum([]byte("x"), multihash.SHA1, -1)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if _, err := ClaimFromMultihash(mh); !errors.Is(err, ErrInvalidClaim) {
		t.Fatalf("expected ErrInvalidClaim, got %v", err)
	}
	if _, err := ParseClaim("not a claim"); !errors.Is(err, ErrInvalidClaim) {
		t.Fatalf("expected ErrInvalidClaim, got %v", err)
	}
}
