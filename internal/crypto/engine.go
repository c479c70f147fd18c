package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/ziadkadry99/vaultsearch/internal/keys"
)

// Engine encrypts field values with AES-256-CBC and a fresh IV per call.
// The output blob is base64(IV || ciphertext).
type Engine struct {
	block cipher.Block
}

// NewEngine builds an engine from the provider's cipher key.
func NewEngine(kp keys.Provider) (*Engine, error) {
	key := kp.CipherKey()
	if len(key) != keys.KeySize {
		return nil, &Error{Op: "init", Err: ErrKeyUnavailable}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &Error{Op: "init", Err: fmt.Errorf("%w: %v", ErrKeyUnavailable, err)}
	}
	return &Engine{block: block}, nil
}

// Encrypt returns the encoded blob for plaintext. Two calls with the same
// input produce different blobs.
func (e *Engine) Encrypt(plaintext string) (string, error) {
	padded := pad([]byte(plaintext), aes.BlockSize)

	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return "", &Error{Op: "encrypt", Err: fmt.Errorf("reading iv: %w", err)}
	}
	cipher.NewCBCEncrypter(e.block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (e *Engine) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", &Error{Op: "decrypt", Err: ErrMalformed}
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", &Error{Op: "decrypt", Err: ErrMalformed}
	}

	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(e.block, iv).CryptBlocks(plain, ct)

	unpadded, err := unpad(plain, aes.BlockSize)
	if err != nil {
		return "", &Error{Op: "decrypt", Err: err}
	}
	return string(unpadded), nil
}

// pad applies PKCS#7. A full block of padding is added when len(b) is
// already aligned.
func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrPadding
		}
	}
	return b[:len(b)-n], nil
}
