package decrypt

import (
	"encoding/binary"
)

// Sealed-key length bounds for envelope detection. A little-endian u32 prefix
// inside this range marks an envelope-encoded blob.
const (
	minSealedKeyLen = 200
	maxSealedKeyLen = 400
)

// Envelope is the parsed wire form of an envelope-encoded blob:
// a length-prefixed sealed symmetric key followed by the AEAD ciphertext.
type Envelope struct {
	SealedKey  []byte
	Ciphertext []byte
}

// IsEnvelope reports whether data uses the envelope encoding.
func IsEnvelope(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	keyLen := int(binary.LittleEndian.Uint32(data[:4]))
	return keyLen >= minSealedKeyLen && keyLen <= maxSealedKeyLen && len(data) > keyLen+4
}

// ParseEnvelope splits an envelope-encoded blob into its sealed key and
// ciphertext parts. It applies the IsEnvelope check itself and returns false
// when the encoding does not apply.
func ParseEnvelope(data []byte) (Envelope, bool) {
	if !IsEnvelope(data) {
		return Envelope{}, false
	}
	keyLen := int(binary.LittleEndian.Uint32(data[:4]))
	return Envelope{
		SealedKey:  data[4 : 4+keyLen],
		Ciphertext: data[4+keyLen:],
	}, true
}
