// Package tokenizer implements the CLIP byte-pair-encoding tokenizer used
// by the Stable Diffusion text encoder. Vocabulary and merge rules are
// loaded from the standard vocab.json / merges.txt pair shipped with the
// model.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	bosToken = "<|startoftext|>"
	eosToken = "<|endoftext|>"
	wordEnd  = "</w>"

	// DefaultMaxLen is the CLIP context length.
	DefaultMaxLen = 77
)

// CLIP is a byte-pair-encoding tokenizer with a fixed context length.
// Sequences are wrapped in BOS/EOS and padded with EOS.
type CLIP struct {
	vocab  map[string]int
	merges []MergePair
	bos    int
	eos    int
	maxLen int
}

// MergePair is one BPE merge rule; earlier pairs have higher priority.
type MergePair struct {
	A, B string
}

// Load reads vocab.json and merges.txt from dir.
func Load(dir string) (*CLIP, error) {
	vocabData, err := os.ReadFile(filepath.Join(dir, "vocab.json"))
	if err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	vocab := make(map[string]int)
	if err := json.Unmarshal(vocabData, &vocab); err != nil {
		return nil, fmt.Errorf("parse vocab: %w", err)
	}

	mergesData, err := os.ReadFile(filepath.Join(dir, "merges.txt"))
	if err != nil {
		return nil, fmt.Errorf("read merges: %w", err)
	}
	var merges []MergePair
	for _, line := range strings.Split(string(mergesData), "\n") {
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) == 2 {
			merges = append(merges, MergePair{A: parts[0], B: strings.TrimRight(parts[1], "\r")})
		}
	}

	return New(vocab, merges)
}

// New builds a tokenizer from an in-memory vocabulary and merge list.
func New(vocab map[string]int, merges []MergePair) (*CLIP, error) {
	bos, ok := vocab[bosToken]
	if !ok {
		return nil, fmt.Errorf("tokenizer: vocabulary missing %s", bosToken)
	}
	eos, ok := vocab[eosToken]
	if !ok {
		return nil, fmt.Errorf("tokenizer: vocabulary missing %s", eosToken)
	}
	return &CLIP{
		vocab:  vocab,
		merges: merges,
		bos:    bos,
		eos:    eos,
		maxLen: DefaultMaxLen,
	}, nil
}

// MaxLen returns the fixed context length.
func (t *CLIP) MaxLen() int { return t.maxLen }

// Encode tokenizes text into exactly MaxLen ids: BOS, the BPE tokens, then
// EOS padding. Overlong inputs are truncated with EOS kept last. BPE parts
// absent from the vocabulary are dropped; text made entirely of unknown
// symbols encodes to BOS plus EOS padding.
func (t *CLIP) Encode(text string) []int64 {
	text = strings.ToLower(strings.TrimSpace(text))

	tokens := make([]int64, 0, t.maxLen)
	tokens = append(tokens, int64(t.bos))

	for _, word := range splitWords(text) {
		for _, part := range t.bpe(word + wordEnd) {
			if id, ok := t.vocab[part]; ok {
				tokens = append(tokens, int64(id))
			}
		}
	}

	tokens = append(tokens, int64(t.eos))

	if len(tokens) > t.maxLen {
		tokens = tokens[:t.maxLen]
		tokens[t.maxLen-1] = int64(t.eos)
	}
	for len(tokens) < t.maxLen {
		tokens = append(tokens, int64(t.eos))
	}
	return tokens
}

// bpe splits the word into characters (with the trailing end-of-word marker
// kept whole) and applies the merge rules in priority order.
func (t *CLIP) bpe(word string) []string {
	parts := make([]string, 0, len(word))
	i := 0
	for i < len(word) {
		if strings.HasPrefix(word[i:], wordEnd) {
			parts = append(parts, wordEnd)
			i += len(wordEnd)
		} else {
			parts = append(parts, string(word[i]))
			i++
		}
	}

	for _, merge := range t.merges {
		next := make([]string, 0, len(parts))
		j := 0
		for j < len(parts) {
			if j+1 < len(parts) && parts[j] == merge.A && parts[j+1] == merge.B {
				next = append(next, merge.A+merge.B)
				j += 2
			} else {
				next = append(next, parts[j])
				j++
			}
		}
		parts = next
		if len(parts) == 1 {
			break
		}
	}
	return parts
}

func splitWords(text string) []string {
	var words []string
	var current []rune
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			if len(current) > 0 {
				words = append(words, string(current))
				current = current[:0]
			}
			if unicode.IsPunct(r) {
				words = append(words, string(r))
			}
		} else {
			current = append(current, r)
		}
	}
	if len(current) > 0 {
		words = append(words, string(current))
	}
	return words
}
