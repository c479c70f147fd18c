package keys

import "github.com/awnumar/memguard"

// Locked keeps the key pair in mlocked, read-only buffers so the keys are
// never swapped to disk and are wiped on Destroy.
type Locked struct {
	cipherKey *memguard.LockedBuffer
	indexKey  *memguard.LockedBuffer
}

// NewLocked validates the keys and moves them into locked memory. The
// source slices are wiped.
func NewLocked(cipherKey, indexKey []byte) (*Locked, error) {
	if err := validate(cipherKey, indexKey); err != nil {
		return nil, err
	}
	c := memguard.NewBufferFromBytes(cipherKey)
	i := memguard.NewBufferFromBytes(indexKey)
	c.Freeze()
	i.Freeze()
	return &Locked{cipherKey: c, indexKey: i}, nil
}

func (l *Locked) CipherKey() []byte { return l.cipherKey.Bytes() }
func (l *Locked) IndexKey() []byte  { return l.indexKey.Bytes() }

// Destroy wipes both keys. The provider must not be used afterwards.
func (l *Locked) Destroy() {
	l.cipherKey.Destroy()
	l.indexKey.Destroy()
}
