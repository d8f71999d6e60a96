package assertion

import (
	"encoding/binary"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/sha3"

	"oracleflow/bytes32"
	"oracleflow/errs"
)

var ErrInvalidClaim = errs.New(errs.Admission, "assertion: claim is not a 32-byte digest")

// Fingerprint derives the assertion id: keccak256 over claim, bond (16-byte LE),
// time and liveness (8-byte LE ns), currency, optional callback and manager,
// identifier, asserter and caller.
func Fingerprint(in Input, at int64) bytes32.ID {
	h := sha3.NewLegacyKeccak256()
	h.Write(in.Claim[:])

	bond := in.Bond.Bytes32()
	var le [16]byte
	for i := 0; i < 16; i++ {
		le[i] = bond[31-i]
	}
	h.Write(le[:])

	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(at))
	h.Write(n[:])
	binary.LittleEndian.PutUint64(n[:], uint64(in.Liveness))
	h.Write(n[:])

	h.Write([]byte(in.Currency))
	if in.CallbackRecipient != "" {
		h.Write([]byte(in.CallbackRecipient))
	}
	if in.EscalationManager != "" {
		h.Write([]byte(in.EscalationManager))
	}
	h.Write(in.Identifier[:])
	h.Write([]byte(in.Asserter))
	h.Write([]byte(in.Caller))

	var out bytes32.ID
	copy(out[:], h.Sum(nil))
	return out
}

// Ancillary is the description a dispute attaches to its resolution request.
func Ancillary(id bytes32.ID, asserter string, claim, domain bytes32.ID) []byte {
	return []byte(fmt.Sprintf("assertionId:%s,ooAsserter:%s,claim:%s,domainId:%s", id, asserter, claim, domain))
}

// ClaimFromContent hashes content with sha2-256 and returns the digest as a
// claim together with the raw CIDv1 that addresses the same bytes.
func ClaimFromContent(content []byte) (bytes32.ID, cid.Cid, error) {
	mh, err := multihash.Sum(content, multihash.SHA2_256, -1)
	if err != nil {
		return bytes32.Zero, cid.Undef, fmt.Errorf("assertion: hash claim: %w", err)
	}
	claim, err := ClaimFromMultihash(mh)
	if err != nil {
		return bytes32.Zero, cid.Undef, err
	}
	return claim, cid.NewCidV1(cid.Raw, mh), nil
}

// ClaimFromCID extracts the 32-byte digest behind a CID string.
func ClaimFromCID(s string) (bytes32.ID, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return bytes32.Zero, fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	}
	return ClaimFromMultihash(c.Hash())
}

func ClaimFromMultihash(mh multihash.Multihash) (bytes32.ID, error) {
	dec, err := multihash.Decode(mh)
	if err != nil {
		return bytes32.Zero, fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	}
	claim, err := bytes32.FromBytes(dec.Digest)
	if err != nil {
		return bytes32.Zero, fmt.Errorf("%w: %s digest is %d bytes", ErrInvalidClaim, dec.Name, len(dec.Digest))
	}
	return claim, nil
}

// ParseClaim accepts either 64 hex characters or a CID.
func ParseClaim(s string) (bytes32.ID, error) {
	if id, err := bytes32.Parse(s); err == nil {
		return id, nil
	}
	return ClaimFromCID(s)
}
