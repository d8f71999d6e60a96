package voting

import (
	"encoding/hex"
	"testing"
	"time"

	"oracleflow/bytes32"
)

func TestPriceBytesLittleEndianSignExtended(t *testing.T) {
	pb := PriceBytes(1)
	if got := hex.EncodeToString(pb[:]); got != "01000000000000000000000000000000" {
		t.Fatalf("price 1 encoded as %s", got)
	}
	pb = PriceBytes(-1)
	if got := hex.EncodeToString(pb[:]); got != "ffffffffffffffffffffffffffffffff" {
		t.Fatalf("price -1 encoded as %s", got)
	}
}

func TestCommitHashBindsPriceAndSalt(t *testing.T) {
	salt := bytes32.MustFromString("pepper")
	h := CommitHash(100, salt)
	if h != CommitHash(100, salt) {
		t.Fatal("commit hash is not deterministic")
	}
	if h == CommitHash(101, salt) {
		t.Fatal("price change kept the hash")
	}
	if h == CommitHash(100, bytes32.MustFromString("salt")) {
		t.Fatal("salt change kept the hash")
	}
}

func TestRequestIDDependsOnEveryInput(t *testing.T) {
	id := bytes32.MustFromString("ASSERT_TRUTH")
	at := time.Unix(1700000000, 0)
	base := RequestID(id, at, []byte("a"))
	if base == RequestID(id, at.Add(time.Nanosecond), []byte("a")) {
		t.Fatal("time ignored")
	}
	if base == RequestID(id, at, []byte("b")) {
		t.Fatal("ancillary ignored")
	}
	if base == RequestID(bytes32.MustFromString("OTHER"), at, []byte("a")) {
		t.Fatal("identifier ignored")
	}
}
