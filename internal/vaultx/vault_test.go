package vaultx

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte("01234567890123456789012345678901"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(map[string]string{"refresh_token": testKey()})
	require.NoError(t, err)

	plaintexts := []string{"a", "refresh-token-value", "unicode ✓ body"}
	for _, p := range plaintexts {
		ct, err := v.Encrypt("refresh_token", []byte(p))
		require.NoError(t, err)
		assert.NotEqual(t, p, string(ct))

		pt, err := v.Decrypt("refresh_token", ct)
		require.NoError(t, err)
		assert.Equal(t, p, string(pt))
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	v, err := New(map[string]string{
		"a": testKey(),
		"b": base64.StdEncoding.EncodeToString([]byte("98765432109876543210987654321098")),
	})
	require.NoError(t, err)

	ct, err := v.Encrypt("a", []byte("secret"))
	require.NoError(t, err)

	_, err = v.Decrypt("b", ct)
	assert.Error(t, err)
}

func TestNewRejectsBadKeySize(t *testing.T) {
	_, err := New(map[string]string{"a": base64.StdEncoding.EncodeToString([]byte("too-short"))})
	assert.Error(t, err)
}

func TestNewRejectsMissingKey(t *testing.T) {
	_, err := New(map[string]string{"a": ""})
	assert.Error(t, err)
}

func TestNewFromMasterDerivesDistinctKeys(t *testing.T) {
	v, err := NewFromMaster(testKey(), "refresh_token", "other")
	require.NoError(t, err)

	ct, err := v.Encrypt("refresh_token", []byte("secret"))
	require.NoError(t, err)

	pt, err := v.Decrypt("refresh_token", ct)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(pt))

	// A different purpose derives a different key.
	_, err = v.Decrypt("other", ct)
	assert.Error(t, err)
}

func TestNewFromMasterRejectsEmptyMaster(t *testing.T) {
	_, err := NewFromMaster("", "refresh_token")
	assert.Error(t, err)
}
