package encryption

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptObject_FieldIsolation(t *testing.T) {
	c := newTestCodec(t)
	created := time.Date(2024, 2, 14, 9, 0, 0, 0, time.UTC)
	token := "ExponentPushToken[abc]"

	record := map[string]any{
		"id":         "u1",
		"email":      "alice@example.com",
		"push_token": &token,
		"name":       "Alice",
		"created_at": created,
		"age":        31,
	}

	enc, err := c.EncryptObject(record, []string{"email", "push_token", "missing", "age"})
	require.NoError(t, err)

	// input untouched
	assert.Equal(t, "alice@example.com", record["email"])
	assert.Equal(t, &token, record["push_token"])

	assert.True(t, c.IsEncryptedFor("email", enc["email"].(string)))
	assert.True(t, c.IsEncryptedFor("push_token", *enc["push_token"].(*string)))
	assert.False(t, c.IsEncrypted(enc["email"].(string)), "values are bound to their field")
	assert.Equal(t, "u1", enc["id"])
	assert.Equal(t, "Alice", enc["name"])
	assert.Equal(t, created, enc["created_at"])
	assert.Equal(t, 31, enc["age"], "non-string fields are left alone")
	_, present := enc["missing"]
	assert.False(t, present, "absent fields are not added")

	dec, err := c.DecryptObject(enc, []string{"email", "push_token", "missing", "age"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", dec["email"])
	assert.Equal(t, token, *dec["push_token"].(*string))
	assert.Equal(t, "Alice", dec["name"])
	assert.Equal(t, created, dec["created_at"])
}

func TestEncryptObject_EmptyAndNil(t *testing.T) {
	c := newTestCodec(t)
	var nilToken *string

	record := map[string]any{"email": "", "push_token": nilToken, "note": nil}
	enc, err := c.EncryptObject(record, []string{"email", "push_token", "note"})
	require.NoError(t, err)
	assert.Equal(t, record, enc)

	out, err := c.EncryptObject(nil, []string{"email"})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEncryptObject_NoDoubleEncryption(t *testing.T) {
	c := newTestCodec(t)

	once, err := c.EncryptObject(map[string]any{"message": "bonjour"}, []string{"message"})
	require.NoError(t, err)
	twice, err := c.EncryptObject(once, []string{"message"})
	require.NoError(t, err)
	assert.Equal(t, once["message"], twice["message"])

	dec, err := c.DecryptObject(twice, []string{"message"})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", dec["message"])
}

func TestDecryptObject_PlaintextFailsLoudly(t *testing.T) {
	c := newTestCodec(t)

	_, err := c.DecryptObject(map[string]any{"message": "legacy plaintext"}, []string{"message"})
	assert.ErrorIs(t, err, ErrDecryptionFailure)
	assert.Contains(t, err.Error(), `field "message"`)
}

func TestEncryptObject_CiphertextFromAnotherFieldIsRejected(t *testing.T) {
	c := newTestCodec(t)

	user, err := c.EncryptObjectIn("User", map[string]any{"email": "victim@example.com"}, []string{"email"})
	require.NoError(t, err)
	leaked := user["email"].(string)

	_, err = c.EncryptObjectIn("LoveNote", map[string]any{"message": leaked}, []string{"message"})
	assert.ErrorIs(t, err, ErrDecryptionFailure)

	_, err = c.DecryptObjectIn("LoveNote", map[string]any{"message": leaked}, []string{"message"})
	assert.ErrorIs(t, err, ErrDecryptionFailure)

	unscoped, err := c.Encrypt("victim@example.com")
	require.NoError(t, err)
	_, err = c.EncryptObjectIn("LoveNote", map[string]any{"message": unscoped}, []string{"message"})
	assert.ErrorIs(t, err, ErrDecryptionFailure)

	dec, err := c.DecryptObjectIn("User", user, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, "victim@example.com", dec["email"])
}
