// Package blindindex derives deterministic keyed-hash search tokens from
// plaintext so encrypted records can be found by exact value or prefix.
package blindindex

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"

	"github.com/ziadkadry99/vaultsearch/internal/keys"
)

// MinPrefixLen is the shortest prefix that gets its own token. Shorter
// prefixes would match too broadly.
const MinPrefixLen = 3

// TokenLen is the length of a hex token.
const TokenLen = sha256.Size * 2

// Indexer computes HMAC-SHA256 tokens with the index key.
type Indexer struct {
	key []byte
}

// New builds an indexer from the provider's index key. The index key must
// differ from the cipher key.
func New(kp keys.Provider) (*Indexer, error) {
	key := kp.IndexKey()
	if len(key) != keys.KeySize {
		return nil, errors.New("blindindex: index key unavailable")
	}
	if bytes.Equal(key, kp.CipherKey()) {
		return nil, errors.New("blindindex: index key must differ from cipher key")
	}
	return &Indexer{key: bytes.Clone(key)}, nil
}

// Normalize case-folds and trims text.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// TokenFor returns the token for the normalized text.
func (ix *Indexer) TokenFor(text string) string {
	return ix.token(Normalize(text))
}

func (ix *Indexer) token(normalized string) string {
	mac := hmac.New(sha256.New, ix.key)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}

// IndexTerms returns the token for the whole normalized text plus one for
// every prefix of MinPrefixLen..n-1 runes. Empty text yields no terms.
func (ix *Indexer) IndexTerms(text string) []string {
	return ix.TermsFor(text)
}

// TermsFor returns the deduplicated union of IndexTerms over every field,
// sorted for stable output.
func (ix *Indexer) TermsFor(fields ...string) []string {
	set := make(map[string]struct{})
	for _, f := range fields {
		clean := Normalize(f)
		if clean == "" {
			continue
		}
		set[ix.token(clean)] = struct{}{}

		runes := []rune(clean)
		for k := MinPrefixLen; k < len(runes); k++ {
			set[ix.token(string(runes[:k]))] = struct{}{}
		}
	}

	terms := make([]string, 0, len(set))
	for t := range set {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}
