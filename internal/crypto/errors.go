package crypto

import "errors"

var (
	// ErrMalformed indicates a ciphertext blob that is not valid base64 or
	// is not a whole number of blocks after the IV.
	ErrMalformed = errors.New("malformed ciphertext")

	// ErrPadding indicates the decrypted plaintext carries invalid PKCS#7 padding.
	ErrPadding = errors.New("invalid padding")

	// ErrKeyUnavailable indicates the key provider returned no usable key.
	ErrKeyUnavailable = errors.New("key unavailable")
)

// Error reports a failed cryptographic operation. It always wraps one of
// the sentinel errors above.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "crypto " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }
