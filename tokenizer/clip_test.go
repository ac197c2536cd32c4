package tokenizer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVocab() map[string]int {
	return map[string]int{
		"<|startoftext|>": 49406,
		"<|endoftext|>":   49407,
		"a":               1,
		"c":               2,
		"t":               3,
		"</w>":            4,
		"a</w>":           5,
		"ca":              6,
		"cat</w>":         7,
		"t</w>":           8,
	}
}

func testMerges() []MergePair {
	return []MergePair{
		{A: "a", B: "</w>"},
		{A: "t", B: "</w>"},
		{A: "c", B: "a"},
		{A: "ca", B: "t</w>"},
	}
}

func newTestTokenizer(t *testing.T) *CLIP {
	t.Helper()
	tok, err := New(testVocab(), testMerges())
	require.NoError(t, err)
	return tok
}

func TestEncodeFixedLength(t *testing.T) {
	tok := newTestTokenizer(t)

	ids := tok.Encode("a cat")
	require.Len(t, ids, DefaultMaxLen)

	assert.Equal(t, int64(49406), ids[0], "BOS first")
	assert.Equal(t, int64(5), ids[1], "a</w>")
	assert.Equal(t, int64(7), ids[2], "cat</w> fully merged")
	for _, id := range ids[3:] {
		assert.Equal(t, int64(49407), id, "EOS padding")
	}
}

func TestEncodeLowercasesAndTrims(t *testing.T) {
	tok := newTestTokenizer(t)
	assert.Equal(t, tok.Encode("  A CAT  "), tok.Encode("a cat"))
}

func TestEncodeEmpty(t *testing.T) {
	tok := newTestTokenizer(t)

	ids := tok.Encode("")
	require.Len(t, ids, DefaultMaxLen)
	assert.Equal(t, int64(49406), ids[0])
	for _, id := range ids[1:] {
		assert.Equal(t, int64(49407), id)
	}
}

func TestEncodeTruncatesWithTrailingEOS(t *testing.T) {
	tok := newTestTokenizer(t)

	long := ""
	for i := 0; i < 100; i++ {
		long += "cat "
	}
	ids := tok.Encode(long)
	require.Len(t, ids, DefaultMaxLen)
	assert.Equal(t, int64(49407), ids[DefaultMaxLen-1], "EOS kept last after truncation")
}

func TestEncodeDropsUnknownParts(t *testing.T) {
	tok := newTestTokenizer(t)

	ids := tok.Encode("dog")
	require.Len(t, ids, DefaultMaxLen)
	assert.Equal(t, int64(49406), ids[0])
	for _, id := range ids[1:] {
		assert.Equal(t, int64(49407), id, "out-of-vocabulary parts are dropped")
	}

	assert.Equal(t, tok.Encode("cat"), tok.Encode("cat dog"), "unknown word contributes nothing")
}

func TestNewRequiresSpecialTokens(t *testing.T) {
	_, err := New(map[string]int{"a": 1}, nil)
	assert.Error(t, err)
}

func TestLoadFromFiles(t *testing.T) {
	dir := t.TempDir()

	vocabJSON, err := json.Marshal(testVocab())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vocab.json"), vocabJSON, 0o644))

	merges := "#version: 0.2\na </w>\nt </w>\nc a\nca t</w>\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "merges.txt"), []byte(merges), 0o644))

	tok, err := Load(dir)
	require.NoError(t, err)

	ids := tok.Encode("cat")
	assert.Equal(t, int64(7), ids[1])
}
