// Package statefile persists documents on disk, optionally sealed with
// XChaCha20-Poly1305 under a random key or an Argon2id-derived passphrase key.
// Writes are atomic: data goes to a temporary file in the target directory
// which is then renamed over the destination.
package statefile

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	magic         = "STATED\x00"
	formatVersion = 1

	kdfNone     byte = 0
	kdfArgon2id byte = 1

	// KeySize is the length of a raw sealing key.
	KeySize = chacha20poly1305.KeySize

	saltSize = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4

	maxArgonTime   uint32 = 16
	maxArgonMemory uint32 = 1024 * 1024
)

var (
	// ErrNotSealed is returned when opening data that carries no seal header.
	ErrNotSealed = errors.New("data is not sealed")
	// ErrAuthentication is returned when the key is wrong or the data was modified.
	ErrAuthentication = errors.New("sealed data failed authentication")
	// ErrKeyKind is returned when data sealed with a passphrase is opened with a
	// raw key, or the reverse.
	ErrKeyKind = errors.New("sealed data uses a different key kind")
	// ErrMalformed is returned for truncated or unknown headers.
	ErrMalformed = errors.New("sealed data is malformed")
)

// Sealer encrypts and authenticates documents.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// IsSealed reports whether data starts with a seal header.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(magic))
}

// GenerateKey returns a random key suitable for NewKeySealer.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

type keySealer struct {
	key []byte
}

// NewKeySealer seals with a raw KeySize-byte key.
func NewKeySealer(key []byte) (Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return &keySealer{key: append([]byte(nil), key...)}, nil
}

func (s *keySealer) Seal(plaintext []byte) ([]byte, error) {
	header := newHeader(kdfNone)
	return seal(s.key, header, plaintext)
}

func (s *keySealer) Open(sealed []byte) ([]byte, error) {
	h, err := parseHeader(sealed)
	if err != nil {
		return nil, err
	}
	if h.kdf != kdfNone {
		return nil, ErrKeyKind
	}
	return open(s.key, sealed, h)
}

type passphraseSealer struct {
	passphrase []byte
}

// NewPassphraseSealer seals with a key derived from passphrase. Every Seal
// draws a fresh salt, stored in the header with the derivation parameters.
func NewPassphraseSealer(passphrase []byte) (Sealer, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase must not be empty")
	}
	return &passphraseSealer{passphrase: append([]byte(nil), passphrase...)}, nil
}

func (s *passphraseSealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	header := newHeader(kdfArgon2id)
	header = binary.BigEndian.AppendUint32(header, argonTime)
	header = binary.BigEndian.AppendUint32(header, argonMemory)
	header = append(header, argonThreads)
	header = append(header, salt...)

	key := argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, KeySize)
	return seal(key, header, plaintext)
}

func (s *passphraseSealer) Open(sealed []byte) ([]byte, error) {
	h, err := parseHeader(sealed)
	if err != nil {
		return nil, err
	}
	if h.kdf != kdfArgon2id {
		return nil, ErrKeyKind
	}
	key := argon2.IDKey(s.passphrase, h.salt, h.time, h.memory, h.threads, KeySize)
	return open(key, sealed, h)
}

type header struct {
	kdf     byte
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	// size is the header length including the nonce.
	size  int
	nonce []byte
}

func newHeader(kdf byte) []byte {
	h := make([]byte, 0, 64)
	h = append(h, magic...)
	h = append(h, formatVersion, kdf)
	return h
}

func parseHeader(data []byte) (header, error) {
	if !IsSealed(data) {
		return header{}, ErrNotSealed
	}
	pos := len(magic)
	if len(data) < pos+2 {
		return header{}, ErrMalformed
	}
	if data[pos] != formatVersion {
		return header{}, fmt.Errorf("%w: unsupported version %d", ErrMalformed, data[pos])
	}
	h := header{kdf: data[pos+1]}
	pos += 2

	switch h.kdf {
	case kdfNone:
	case kdfArgon2id:
		if len(data) < pos+9+saltSize {
			return header{}, ErrMalformed
		}
		h.time = binary.BigEndian.Uint32(data[pos:])
		h.memory = binary.BigEndian.Uint32(data[pos+4:])
		h.threads = data[pos+8]
		if h.time == 0 || h.time > maxArgonTime || h.memory > maxArgonMemory || h.threads == 0 {
			return header{}, fmt.Errorf("%w: key derivation parameters out of range", ErrMalformed)
		}
		pos += 9
		h.salt = data[pos : pos+saltSize]
		pos += saltSize
	default:
		return header{}, fmt.Errorf("%w: unknown key derivation %d", ErrMalformed, h.kdf)
	}

	if len(data) < pos+chacha20poly1305.NonceSizeX {
		return header{}, ErrMalformed
	}
	h.nonce = data[pos : pos+chacha20poly1305.NonceSizeX]
	h.size = pos + chacha20poly1305.NonceSizeX
	return h, nil
}

func seal(key, header, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	header = append(header, nonce...)
	out := make([]byte, len(header), len(header)+len(plaintext)+aead.Overhead())
	copy(out, header)
	// The whole header, nonce included, is authenticated.
	return aead.Seal(out, nonce, plaintext, header), nil
}

func open(key, sealed []byte, h header) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, h.nonce, sealed[h.size:], sealed[:h.size])
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
