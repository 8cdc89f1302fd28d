// Package container walks PNG image containers to find embedded card text.
package container

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/hpungsan/cardvault/internal/errors"
)

// Signature is the fixed 8-byte PNG header.
var Signature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Keywords used by card producers in tEXt chunks.
const (
	KeywordV3     = "ccv3"
	KeywordLegacy = "chara"

	textChunkType = "tEXt"
)

// Chunk is one length/type/payload segment of a container.
// CRC trailers are skipped, not validated.
type Chunk struct {
	Type    string
	Payload []byte
}

// HasSignature reports whether data starts with the PNG signature.
func HasSignature(data []byte) bool {
	return len(data) >= len(Signature) && bytes.Equal(data[:len(Signature)], Signature)
}

// Chunks walks every chunk after the signature.
// A chunk header cut off by the end of the buffer ends the walk; a payload
// running past the end is clamped to what is there.
func Chunks(data []byte) ([]Chunk, error) {
	if !HasSignature(data) {
		return nil, errors.NewContainerFormat("invalid PNG signature")
	}

	var chunks []Chunk
	size := uint64(len(data))
	offset := uint64(len(Signature))
	for offset+8 <= size {
		length := uint64(binary.BigEndian.Uint32(data[offset : offset+4]))
		typ := string(data[offset+4 : offset+8])

		start := offset + 8
		end := start + length
		if end > size {
			end = size
		}
		chunks = append(chunks, Chunk{Type: typ, Payload: data[start:end]})

		// length + type + payload + crc
		offset += 12 + length
	}
	return chunks, nil
}

// ExtractCardText returns the card text stored under the ccv3 keyword, or
// under the legacy chara keyword when the ccv3 value is empty or missing. The
// last chunk seen for each keyword wins. ok is false when neither keyword
// carries a non-empty value.
func ExtractCardText(data []byte) (text string, ok bool, err error) {
	chunks, err := Chunks(data)
	if err != nil {
		return "", false, err
	}

	var v3, legacy string
	for _, c := range chunks {
		if c.Type != textChunkType {
			continue
		}
		keyword, value, found := splitText(c.Payload)
		if !found {
			continue
		}
		switch keyword {
		case KeywordV3:
			v3 = value
		case KeywordLegacy:
			legacy = value
		}
	}

	if v3 != "" {
		return v3, true, nil
	}
	if legacy != "" {
		return legacy, true, nil
	}
	return "", false, nil
}

// splitText splits a tEXt payload at its first NUL. Invalid UTF-8 is replaced
// rather than rejected.
func splitText(payload []byte) (keyword, value string, ok bool) {
	text := strings.ToValidUTF8(string(payload), "\uFFFD")
	keyword, value, ok = strings.Cut(text, "\x00")
	return keyword, value, ok
}

// TextChunk encodes a tEXt chunk with a zero CRC. It is the inverse of the
// walk above and exists for building fixtures and re-embedding cards.
func TextChunk(keyword, value string) []byte {
	payload := make([]byte, 0, len(keyword)+1+len(value))
	payload = append(payload, keyword...)
	payload = append(payload, 0)
	payload = append(payload, value...)
	return RawChunk(textChunkType, payload)
}

// RawChunk encodes an arbitrary chunk with a zero CRC.
func RawChunk(typ string, payload []byte) []byte {
	buf := make([]byte, 12+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:8], typ)
	copy(buf[8:], payload)
	return buf
}
