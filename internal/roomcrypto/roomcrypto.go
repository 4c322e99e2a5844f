// Package roomcrypto implements the client-side cryptography for a room:
// PBKDF2 key derivation from (ticket id, room id, salt) and AES-256-CBC
// sealing of message envelopes. Every member that derives a key from the
// same three inputs gets a byte-identical key; the server never runs any of
// this code on live traffic.
package roomcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"secure-chat-service/internal/models"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// SaltSize is the key-derivation salt length in bytes.
	SaltSize = 32
	// Iterations is the fixed PBKDF2 iteration count. Changing it breaks
	// key agreement with every existing client.
	Iterations = 10000
)

var (
	// ErrKeyNotReady means encryption was attempted before key derivation.
	ErrKeyNotReady = errors.New("roomcrypto: room key not initialized")
	// ErrDecryptFailed covers malformed, foreign, or wrong-key ciphertext.
	ErrDecryptFailed = errors.New("roomcrypto: decryption failed")
)

// Plaintext is the decrypted message content. It never touches the wire.
type Plaintext struct {
	Text      string `json:"text"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
	ID        string `json:"id"`
}

// NewSalt generates a random key-derivation salt, hex-encoded for the wire.
func NewSalt() (string, error) {
	buf := make([]byte, SaltSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// DeriveKey derives the room key from the ticket id, room id, and salt.
// The derivation is deterministic: all members derive identical keys.
func DeriveKey(ticketID, roomID, saltHex string) ([]byte, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	material := []byte(ticketID + "-" + roomID)
	return pbkdf2.Key(material, salt, Iterations, KeySize, sha256.New), nil
}

// NewEphemeralKey generates a hex-encoded one-time key for a single
// ephemeral message.
func NewEphemeralKey() (string, error) {
	buf := make([]byte, KeySize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewMessageID generates a unique message id.
func NewMessageID() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("msg_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// Seal encrypts pt under the room key into a wire envelope.
func Seal(key []byte, pt Plaintext) (models.Envelope, error) {
	if len(key) != KeySize {
		return models.Envelope{}, ErrKeyNotReady
	}
	return seal(key, pt)
}

// SealEphemeral encrypts pt under a one-time key and attaches that key to
// the envelope so any member can open it without the room key.
func SealEphemeral(keyHex string, pt Plaintext) (models.Envelope, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != KeySize {
		return models.Envelope{}, fmt.Errorf("decode ephemeral key: %w", ErrDecryptFailed)
	}

	pt.Ephemeral = true
	env, err := seal(key, pt)
	if err != nil {
		return models.Envelope{}, err
	}
	env.Ephemeral = true
	env.EphemeralKey = keyHex
	return env, nil
}

// Open decrypts an envelope with the room key.
func Open(key []byte, env models.Envelope) (Plaintext, error) {
	if len(key) != KeySize {
		return Plaintext{}, ErrKeyNotReady
	}
	return open(key, env)
}

// OpenEphemeral decrypts an ephemeral envelope with its embedded key.
func OpenEphemeral(env models.Envelope) (Plaintext, error) {
	key, err := hex.DecodeString(env.EphemeralKey)
	if err != nil || len(key) != KeySize {
		return Plaintext{}, ErrDecryptFailed
	}
	return open(key, env)
}

func seal(key []byte, pt Plaintext) (models.Envelope, error) {
	if pt.ID == "" {
		pt.ID = NewMessageID()
	}
	if pt.Timestamp == 0 {
		pt.Timestamp = time.Now().UnixMilli()
	}

	plain, err := json.Marshal(pt)
	if err != nil {
		return models.Envelope{}, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return models.Envelope{}, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return models.Envelope{}, err
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return models.Envelope{
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		IV:            hex.EncodeToString(iv),
		MessageID:     pt.ID,
		Timestamp:     pt.Timestamp,
	}, nil
}

func open(key []byte, env models.Envelope) (Plaintext, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(env.EncryptedData)
	if err != nil {
		return Plaintext{}, fmt.Errorf("%w: bad ciphertext encoding", ErrDecryptFailed)
	}
	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return Plaintext{}, fmt.Errorf("%w: bad iv", ErrDecryptFailed)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return Plaintext{}, fmt.Errorf("%w: bad ciphertext length", ErrDecryptFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Plaintext{}, err
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plain, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return Plaintext{}, err
	}

	var pt Plaintext
	if err := json.Unmarshal(plain, &pt); err != nil {
		return Plaintext{}, fmt.Errorf("%w: bad plaintext", ErrDecryptFailed)
	}
	return pt, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryptFailed)
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryptFailed)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: bad padding", ErrDecryptFailed)
		}
	}
	return data[:len(data)-pad], nil
}
