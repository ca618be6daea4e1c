package record

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20poly1305"

	"rotaclock/internal/attendance/models"
)

// CoordinateCipher seals coordinates with XChaCha20-Poly1305. The record id
// is bound as associated data so ciphertexts cannot be moved between rows.
type CoordinateCipher struct {
	key []byte
}

var errCiphertextTooShort = errors.New("coordinate ciphertext too short")

// NewCoordinateCipher requires a 32-byte key.
func NewCoordinateCipher(key []byte) (*CoordinateCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("coordinate key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &CoordinateCipher{key: append([]byte(nil), key...)}, nil
}

// Encrypt returns nonce||ciphertext, or nil for a nil coordinate.
func (c *CoordinateCipher) Encrypt(recordID string, coord *models.Coordinate) ([]byte, error) {
	if coord == nil {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, 16)
	binary.BigEndian.PutUint64(plain[:8], math.Float64bits(coord.Lat))
	binary.BigEndian.PutUint64(plain[8:], math.Float64bits(coord.Lon))

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("coordinate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, []byte(recordID)), nil
}

// Decrypt reverses Encrypt. Empty input decodes to nil.
func (c *CoordinateCipher) Decrypt(recordID string, sealed []byte) (*models.Coordinate, error) {
	if len(sealed) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errCiphertextTooShort
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, []byte(recordID))
	if err != nil {
		return nil, fmt.Errorf("decrypt coordinate: %w", err)
	}
	if len(plain) != 16 {
		return nil, fmt.Errorf("decrypt coordinate: unexpected length %d", len(plain))
	}
	return &models.Coordinate{
		Lat: math.Float64frombits(binary.BigEndian.Uint64(plain[:8])),
		Lon: math.Float64frombits(binary.BigEndian.Uint64(plain[8:])),
	}, nil
}
