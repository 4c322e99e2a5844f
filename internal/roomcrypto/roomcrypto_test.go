package roomcrypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-chat-service/internal/models"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	key1, err := DeriveKey("ticket-1", "room_1", salt)
	require.NoError(t, err)
	key2, err := DeriveKey("ticket-1", "room_1", salt)
	require.NoError(t, err)

	assert.Len(t, key1, KeySize)
	assert.Equal(t, key1, key2)
}

func TestDeriveKeyDiffersPerInput(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	otherSalt, err := NewSalt()
	require.NoError(t, err)

	base, err := DeriveKey("ticket-1", "room_1", salt)
	require.NoError(t, err)

	otherTicket, err := DeriveKey("ticket-2", "room_1", salt)
	require.NoError(t, err)
	otherRoom, err := DeriveKey("ticket-1", "room_2", salt)
	require.NoError(t, err)
	resalted, err := DeriveKey("ticket-1", "room_1", otherSalt)
	require.NoError(t, err)

	assert.NotEqual(t, base, otherTicket)
	assert.NotEqual(t, base, otherRoom)
	assert.NotEqual(t, base, resalted)
}

func TestDeriveKeyRejectsBadSalt(t *testing.T) {
	_, err := DeriveKey("ticket-1", "room_1", "not-hex")
	assert.Error(t, err)
}

func TestSealOpenRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	// Sender and receiver derive independently from the same inputs.
	senderKey, err := DeriveKey("ticket-1", "room_1", salt)
	require.NoError(t, err)
	receiverKey, err := DeriveKey("ticket-1", "room_1", salt)
	require.NoError(t, err)

	env, err := Seal(senderKey, Plaintext{Text: "hello room", Username: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EncryptedData)
	assert.NotEmpty(t, env.IV)
	assert.True(t, strings.HasPrefix(env.MessageID, "msg_"))
	assert.NotZero(t, env.Timestamp)
	assert.NotContains(t, env.EncryptedData, "hello room")

	pt, err := Open(receiverKey, env)
	require.NoError(t, err)
	assert.Equal(t, "hello room", pt.Text)
	assert.Equal(t, "alice", pt.Username)
	assert.Equal(t, env.MessageID, pt.ID)
}

func TestSealProducesUniqueIVs(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	key, err := DeriveKey("ticket-1", "room_1", salt)
	require.NoError(t, err)

	first, err := Seal(key, Plaintext{Text: "same text", Username: "alice"})
	require.NoError(t, err)
	second, err := Seal(key, Plaintext{Text: "same text", Username: "alice"})
	require.NoError(t, err)

	assert.NotEqual(t, first.IV, second.IV)
}

func TestOpenWrongKeyFails(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	key, err := DeriveKey("ticket-1", "room_1", salt)
	require.NoError(t, err)
	wrongKey, err := DeriveKey("ticket-other", "room_1", salt)
	require.NoError(t, err)

	env, err := Seal(key, Plaintext{Text: "secret", Username: "alice"})
	require.NoError(t, err)

	_, err = Open(wrongKey, env)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpenMalformedEnvelope(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	key, err := DeriveKey("ticket-1", "room_1", salt)
	require.NoError(t, err)

	cases := []struct {
		name string
		env  models.Envelope
	}{
		{"bad base64", models.Envelope{EncryptedData: "%%%", IV: strings.Repeat("00", 16)}},
		{"bad iv", models.Envelope{EncryptedData: base64.StdEncoding.EncodeToString(make([]byte, 16)), IV: "zz"}},
		{"short iv", models.Envelope{EncryptedData: base64.StdEncoding.EncodeToString(make([]byte, 16)), IV: "0000"}},
		{"empty ciphertext", models.Envelope{EncryptedData: "", IV: strings.Repeat("00", 16)}},
		{"partial block", models.Envelope{EncryptedData: base64.StdEncoding.EncodeToString(make([]byte, 7)), IV: strings.Repeat("00", 16)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(key, tc.env)
			assert.ErrorIs(t, err, ErrDecryptFailed)
		})
	}
}

func TestSealRejectsMissingKey(t *testing.T) {
	_, err := Seal(nil, Plaintext{Text: "hi"})
	assert.ErrorIs(t, err, ErrKeyNotReady)

	_, err = Seal(make([]byte, 16), Plaintext{Text: "hi"})
	assert.ErrorIs(t, err, ErrKeyNotReady)
}

func TestEphemeralRoundTrip(t *testing.T) {
	keyHex, err := NewEphemeralKey()
	require.NoError(t, err)

	env, err := SealEphemeral(keyHex, Plaintext{Text: "gone in ten", Username: "bob"})
	require.NoError(t, err)
	assert.True(t, env.Ephemeral)
	assert.Equal(t, keyHex, env.EphemeralKey)

	// No room key involved: the envelope carries its own one-time key.
	pt, err := OpenEphemeral(env)
	require.NoError(t, err)
	assert.Equal(t, "gone in ten", pt.Text)
	assert.True(t, pt.Ephemeral)
}

func TestOpenEphemeralBadKey(t *testing.T) {
	keyHex, err := NewEphemeralKey()
	require.NoError(t, err)
	env, err := SealEphemeral(keyHex, Plaintext{Text: "x"})
	require.NoError(t, err)

	env.EphemeralKey = "not-hex"
	_, err = OpenEphemeral(env)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestPKCS7RoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 15, 16, 17, 32} {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i)
		}
		padded := pkcs7Pad(data, 16)
		require.Zero(t, len(padded)%16)

		out, err := pkcs7Unpad(padded, 16)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}
}

func TestPKCS7UnpadRejectsGarbage(t *testing.T) {
	_, err := pkcs7Unpad([]byte{}, 16)
	assert.Error(t, err)

	bad := make([]byte, 16)
	bad[15] = 17 // pad byte larger than the block size
	_, err = pkcs7Unpad(bad, 16)
	assert.Error(t, err)

	inconsistent := make([]byte, 16)
	inconsistent[15] = 3
	inconsistent[14] = 3
	inconsistent[13] = 1
	_, err = pkcs7Unpad(inconsistent, 16)
	assert.Error(t, err)
}

func TestNewMessageIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		assert.True(t, strings.HasPrefix(id, "msg_"))
		assert.False(t, seen[id])
		seen[id] = true
	}
}
