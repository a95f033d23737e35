package anchor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/indubia/notary/backend/internal/documents"
)

// ErrInvalidPayload indicates payload bytes or hashes that do not fit the
// configured per-hash width.
var ErrInvalidPayload = errors.New("anchor: invalid payload")

// EncodePayload concatenates fixed-width content hashes, stripped of their 0x
// prefix, into raw transaction data. Selection order is preserved; it is the
// order DecodePayload reproduces.
func EncodePayload(hashes []documents.ContentHash, byteWidth int) ([]byte, error) {
	if byteWidth <= 0 {
		return nil, fmt.Errorf("%w: byte width must be positive, got %d", ErrInvalidPayload, byteWidth)
	}

	var digits strings.Builder
	digits.Grow(len(hashes) * byteWidth * 2)
	for _, hash := range hashes {
		stripped := hash.Stripped()
		if len(stripped) != byteWidth*2 {
			return nil, fmt.Errorf("%w: hash %q is %d hex digits, expected %d", ErrInvalidPayload, hash, len(stripped), byteWidth*2)
		}
		digits.WriteString(stripped)
	}

	payload, err := hex.DecodeString(digits.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return payload, nil
}

// DecodePayload splits raw transaction data back into the 0x-prefixed content
// hashes it was built from, by fixed-width slicing.
func DecodePayload(payload []byte, byteWidth int) ([]documents.ContentHash, error) {
	if byteWidth <= 0 {
		return nil, fmt.Errorf("%w: byte width must be positive, got %d", ErrInvalidPayload, byteWidth)
	}
	if len(payload)%byteWidth != 0 {
		return nil, fmt.Errorf("%w: %d payload bytes do not divide into %d-byte hashes", ErrInvalidPayload, len(payload), byteWidth)
	}

	hashes := make([]documents.ContentHash, 0, len(payload)/byteWidth)
	for offset := 0; offset < len(payload); offset += byteWidth {
		hashes = append(hashes, documents.ContentHash("0x"+hex.EncodeToString(payload[offset:offset+byteWidth])))
	}
	return hashes, nil
}
