package container

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/cardvault/internal/errors"
)

// buildPNG assembles a signature followed by the given encoded chunks.
func buildPNG(chunks ...[]byte) []byte {
	var buf bytes.Buffer
	buf.Write(Signature)
	buf.Write(RawChunk("IHDR", make([]byte, 13)))
	for _, c := range chunks {
		buf.Write(c)
	}
	buf.Write(RawChunk("IEND", nil))
	return buf.Bytes()
}

func TestExtractCardText_BadSignature(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{0x89, 'P', 'N'}},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F', 'I', 'F'}},
		{"json", []byte(`{"name":"x"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ExtractCardText(tt.data)
			require.Error(t, err)
			require.True(t, errors.Is(err, errors.ErrContainerFormat))
			require.Equal(t, errors.StageContainer, errors.StageOf(err))
		})
	}
}

func TestExtractCardText_PrefersV3(t *testing.T) {
	tests := []struct {
		name   string
		chunks [][]byte
		want   string
	}{
		{
			name:   "only legacy",
			chunks: [][]byte{TextChunk("chara", "legacy")},
			want:   "legacy",
		},
		{
			name:   "only v3",
			chunks: [][]byte{TextChunk("ccv3", "newer")},
			want:   "newer",
		},
		{
			name:   "v3 after legacy",
			chunks: [][]byte{TextChunk("chara", "legacy"), TextChunk("ccv3", "newer")},
			want:   "newer",
		},
		{
			name:   "v3 before legacy",
			chunks: [][]byte{TextChunk("ccv3", "newer"), TextChunk("chara", "legacy")},
			want:   "newer",
		},
		{
			name:   "last legacy wins",
			chunks: [][]byte{TextChunk("chara", "first"), TextChunk("chara", "second")},
			want:   "second",
		},
		{
			name:   "empty v3 falls back",
			chunks: [][]byte{TextChunk("ccv3", ""), TextChunk("chara", "legacy")},
			want:   "legacy",
		},
		{
			name:   "later empty v3 falls back",
			chunks: [][]byte{TextChunk("ccv3", "newer"), TextChunk("ccv3", ""), TextChunk("chara", "legacy")},
			want:   "legacy",
		},
		{
			name:   "other keywords ignored",
			chunks: [][]byte{TextChunk("Software", "paint"), TextChunk("chara", "legacy")},
			want:   "legacy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ExtractCardText(buildPNG(tt.chunks...))
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestExtractCardText_NotFound(t *testing.T) {
	data := buildPNG(TextChunk("Comment", "hello"), RawChunk("tEXt", []byte("no separator")))

	got, ok, err := ExtractCardText(data)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, got)
}

func TestExtractCardText_LenientUTF8(t *testing.T) {
	payload := append([]byte("chara\x00ab"), 0xff, 0xfe, 'c')
	data := buildPNG(RawChunk("tEXt", payload))

	got, ok, err := ExtractCardText(data)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ab\uFFFDc", got)
}

func TestExtractCardText_ValueMaySpanNULs(t *testing.T) {
	data := buildPNG(RawChunk("tEXt", []byte("chara\x00a\x00b")))

	got, ok, err := ExtractCardText(data)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a\x00b", got)
}

func TestChunks_TruncatedTrailer(t *testing.T) {
	data := buildPNG(TextChunk("chara", "value"))
	// Drop the IEND CRC and part of its header.
	data = data[:len(data)-6]

	chunks, err := Chunks(data)
	require.NoError(t, err)
	require.Equal(t, "IHDR", chunks[0].Type)
	require.Equal(t, "tEXt", chunks[1].Type)

	got, ok, err := ExtractCardText(data)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value", got)
}

func TestChunks_ClampsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Signature)
	// Claims 100 bytes, carries 5.
	buf.Write([]byte{0, 0, 0, 100})
	buf.WriteString("tEXt")
	buf.WriteString("chara")

	chunks, err := Chunks(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, []byte("chara"), chunks[0].Payload)
}

func TestChunks_Sequence(t *testing.T) {
	data := buildPNG(TextChunk("a", "1"), RawChunk("zTXt", []byte{1, 2, 3}))

	chunks, err := Chunks(data)
	require.NoError(t, err)

	types := make([]string, 0, len(chunks))
	for _, c := range chunks {
		types = append(types, c.Type)
	}
	require.Equal(t, []string{"IHDR", "tEXt", "zTXt", "IEND"}, types)
}
