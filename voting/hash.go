package voting

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"oracleflow/bytes32"
)

// PriceBytes encodes price as a 16-byte little-endian two's complement integer.
func PriceBytes(price int64) [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint64(out[:8], uint64(price))
	if price < 0 {
		for i := 8; i < 16; i++ {
			out[i] = 0xff
		}
	}
	return out
}

// CommitHash is sha256(price_le16 ‖ salt). Voters compute it off-line.
func CommitHash(price int64, salt bytes32.ID) bytes32.ID {
	pb := PriceBytes(price)
	h := sha256.New()
	h.Write(pb[:])
	h.Write(salt[:])
	var out bytes32.ID
	copy(out[:], h.Sum(nil))
	return out
}

// RequestID is sha256(identifier ‖ time_ns_le8 ‖ ancillary).
func RequestID(identifier bytes32.ID, at time.Time, ancillary []byte) bytes32.ID {
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(at.UnixNano()))
	h := sha256.New()
	h.Write(identifier[:])
	h.Write(ts[:])
	h.Write(ancillary)
	var out bytes32.ID
	copy(out[:], h.Sum(nil))
	return out
}
