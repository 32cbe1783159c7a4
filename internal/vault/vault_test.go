package vault

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	key, err := DeriveKey("test-encryption-key")
	require.NoError(t, err)
	v, err := New(key)
	require.NoError(t, err)
	return v
}

func TestVault_EncryptDecrypt_RoundTrip(t *testing.T) {
	v := testVault(t)

	ciphertext, err := v.Encrypt("sk-super-secret-api-key")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(ciphertext))
	assert.NotContains(t, ciphertext, "sk-super-secret-api-key")

	plaintext, err := v.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "sk-super-secret-api-key", plaintext)
}

func TestVault_Decrypt_WrongKeyFails(t *testing.T) {
	v1 := testVault(t)
	key2, err := DeriveKey("a-different-key")
	require.NoError(t, err)
	v2, err := New(key2)
	require.NoError(t, err)

	ciphertext, err := v1.Encrypt("sk-secret")
	require.NoError(t, err)

	_, err = v2.Decrypt(ciphertext)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestVault_Decrypt_TamperedCiphertextFails(t *testing.T) {
	v := testVault(t)

	ciphertext, err := v.Encrypt("sk-secret")
	require.NoError(t, err)

	tampered := []byte(ciphertext)
	tampered[len(tampered)-1] ^= 0x01

	_, err = v.Decrypt(string(tampered))
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestVault_Decrypt_RejectsPlaintextPassthrough(t *testing.T) {
	v := testVault(t)

	_, err := v.Decrypt("not-an-enc-token")
	require.ErrorIs(t, err, ErrDecryptFailed)
}

// Property: encrypt(x, K) then decrypt(·, K) = x, for any key K and any
// plaintext string. Wrong-key rejection is covered by
// TestVault_Decrypt_WrongKeyFails.
func TestVault_RoundTripLaw(t *testing.T) {
	params := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(params)

	properties.Property("encrypt then decrypt returns original plaintext", prop.ForAll(
		func(secret, plaintext string) bool {
			key, err := DeriveKey(secret)
			if err != nil {
				return false
			}
			v, err := New(key)
			if err != nil {
				return false
			}
			ciphertext, err := v.Encrypt(plaintext)
			if err != nil {
				return false
			}
			got, err := v.Decrypt(ciphertext)
			return err == nil && got == plaintext
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
