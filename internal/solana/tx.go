package solana

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Transaction wire sizes.
const (
	SignatureLength = 64
	PublicKeyLength = 32
)

// messageVersionBit marks a versioned message envelope. Legacy messages
// start with the signer count, which never has the high bit set.
const messageVersionBit = 0x80

// Transaction is a serialized transaction parsed into the sections a signer
// needs: the signature table and the message bytes the signatures cover.
// The wire layout is a compact-u16 signature count, that many 64-byte
// signatures, then the message.
type Transaction struct {
	raw      []byte
	sigStart int
	msgStart int
	version  int // -1 for legacy
	feePayer []byte
}

// ParseTransaction parses a serialized transaction.
func ParseTransaction(raw []byte) (*Transaction, error) {
	sigCount, n, err := readCompactU16(raw)
	if err != nil {
		return nil, fmt.Errorf("signature count: %w", err)
	}
	if sigCount == 0 {
		return nil, errors.New("transaction reserves no signature slots")
	}

	sigStart := n
	msgStart := sigStart + sigCount*SignatureLength
	if len(raw) <= msgStart {
		return nil, errors.New("transaction ends before message")
	}
	msg := raw[msgStart:]

	version := -1
	headerAt := 0
	if msg[0]&messageVersionBit != 0 {
		version = int(msg[0] &^ messageVersionBit)
		if version != 0 {
			return nil, fmt.Errorf("unsupported message version %d", version)
		}
		headerAt = 1
	}

	// Three header bytes precede the account table.
	keysAt := headerAt + 3
	if len(msg) <= keysAt {
		return nil, errors.New("message ends before account table")
	}
	numKeys, n, err := readCompactU16(msg[keysAt:])
	if err != nil {
		return nil, fmt.Errorf("account table length: %w", err)
	}
	if numKeys == 0 {
		return nil, errors.New("empty account table")
	}
	keysStart := keysAt + n
	if len(msg) < keysStart+PublicKeyLength {
		return nil, errors.New("message ends before fee payer key")
	}

	return &Transaction{
		raw:      raw,
		sigStart: sigStart,
		msgStart: msgStart,
		version:  version,
		feePayer: msg[keysStart : keysStart+PublicKeyLength],
	}, nil
}

// ParseTransactionBase64 decodes a base64 blob and parses it.
func ParseTransactionBase64(blob string) (*Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode transaction blob: %w", err)
	}
	return ParseTransaction(raw)
}

// Legacy reports whether the message uses the legacy envelope. Versioned
// messages carry a prefix byte that is part of the signed bytes.
func (t *Transaction) Legacy() bool {
	return t.version < 0
}

// Message returns the exact byte range covered by signatures.
func (t *Transaction) Message() []byte {
	return t.raw[t.msgStart:]
}

// FeePayer returns the base58 key of the account paying fees. Its signature
// occupies the first slot of the signature table.
func (t *Transaction) FeePayer() string {
	return base58.Encode(t.feePayer)
}

// Signed returns a copy of the serialized transaction with sig spliced into
// the fee payer slot, along with the base58 form of the signature.
func (t *Transaction) Signed(sig []byte) ([]byte, string, error) {
	if len(sig) != SignatureLength {
		return nil, "", fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	signed := make([]byte, len(t.raw))
	copy(signed, t.raw)
	copy(signed[t.sigStart:], sig)
	return signed, base58.Encode(sig), nil
}

// readCompactU16 decodes the short-vec length prefix used throughout the
// transaction wire format. Returns the value and the number of bytes read.
func readCompactU16(data []byte) (int, int, error) {
	var value int
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, errors.New("truncated compact-u16")
		}
		b := data[i]
		value |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if value > 0xffff {
				return 0, 0, errors.New("compact-u16 out of range")
			}
			return value, i + 1, nil
		}
	}
	return 0, 0, errors.New("compact-u16 longer than three bytes")
}
