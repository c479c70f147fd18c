// Package keys resolves the symmetric key pair used by the cipher engine and
// the blind indexer. Keys are loaded once at process start and handed to
// constructors explicitly; nothing in the repository embeds key bytes.
package keys

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ziadkadry99/vaultsearch/internal/config"
)

// KeySize is the length in bytes of both the cipher key and the index key.
const KeySize = 32

// ErrNoKeys is returned when neither inline keys nor a key file are configured.
var ErrNoKeys = errors.New("no key material configured")

// Provider supplies the key pair. Returned slices must not be modified.
type Provider interface {
	CipherKey() []byte
	IndexKey() []byte
}

// Static holds keys in ordinary heap memory.
type Static struct {
	cipherKey []byte
	indexKey  []byte
}

// NewStatic copies and validates the given keys.
func NewStatic(cipherKey, indexKey []byte) (*Static, error) {
	if err := validate(cipherKey, indexKey); err != nil {
		return nil, err
	}
	return &Static{
		cipherKey: bytes.Clone(cipherKey),
		indexKey:  bytes.Clone(indexKey),
	}, nil
}

func (s *Static) CipherKey() []byte { return s.cipherKey }
func (s *Static) IndexKey() []byte  { return s.indexKey }

func validate(cipherKey, indexKey []byte) error {
	if len(cipherKey) != KeySize {
		return fmt.Errorf("cipher key must be %d bytes, got %d", KeySize, len(cipherKey))
	}
	if len(indexKey) != KeySize {
		return fmt.Errorf("index key must be %d bytes, got %d", KeySize, len(indexKey))
	}
	if bytes.Equal(cipherKey, indexKey) {
		return errors.New("cipher key and index key must differ")
	}
	return nil
}

// File is the on-disk key file layout.
type File struct {
	CipherKey string `yaml:"cipher_key"`
	IndexKey  string `yaml:"index_key"`
}

// Generate returns a fresh random key pair encoded as hex.
func Generate() (File, error) {
	var f File
	for _, dst := range []*string{&f.CipherKey, &f.IndexKey} {
		buf := make([]byte, KeySize)
		if _, err := rand.Read(buf); err != nil {
			return File{}, fmt.Errorf("reading random key: %w", err)
		}
		*dst = hex.EncodeToString(buf)
	}
	return f, nil
}

// WriteFile saves a key file readable only by the owner. It refuses to
// overwrite an existing file.
func WriteFile(path string, f File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshalling key file: %w", err)
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating key file %s: %w", path, err)
	}
	defer out.Close()
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("writing key file %s: %w", path, err)
	}
	return nil
}

// ReadFile parses a key file.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading key file %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing key file %s: %w", path, err)
	}
	return f, nil
}

// Decode converts the hex pair to raw bytes.
func (f File) Decode() (cipherKey, indexKey []byte, err error) {
	cipherKey, err = hex.DecodeString(f.CipherKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding cipher key: %w", err)
	}
	indexKey, err = hex.DecodeString(f.IndexKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding index key: %w", err)
	}
	return cipherKey, indexKey, nil
}

// Load resolves the key pair described by cfg. Inline hex keys take
// precedence over the key file. When cfg.Locked is set the keys are moved
// into locked memory and the caller must call Close on the result.
func Load(cfg config.KeysConfig) (Provider, error) {
	var f File
	switch {
	case cfg.CipherKey != "" || cfg.IndexKey != "":
		f = File{CipherKey: cfg.CipherKey, IndexKey: cfg.IndexKey}
	case cfg.File != "":
		var err error
		if f, err = ReadFile(cfg.File); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoKeys
	}

	cipherKey, indexKey, err := f.Decode()
	if err != nil {
		return nil, err
	}
	if cfg.Locked {
		return NewLocked(cipherKey, indexKey)
	}
	return NewStatic(cipherKey, indexKey)
}

// Close releases a provider returned by Load if it holds locked memory.
func Close(p Provider) {
	if l, ok := p.(*Locked); ok {
		l.Destroy()
	}
}
