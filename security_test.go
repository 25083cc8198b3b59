package ipa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePassword(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		pw, err := GeneratePassword(DefaultPasswordLength)
		require.NoError(t, err)
		assert.Len(t, pw, DefaultPasswordLength)
		assert.True(t, strings.ContainsAny(pw, passwordUpper), pw)
		assert.True(t, strings.ContainsAny(pw, passwordLower), pw)
		assert.True(t, strings.ContainsAny(pw, passwordDigits), pw)
		assert.True(t, strings.ContainsAny(pw, passwordSymbols), pw)
		seen[pw] = true
	}
	assert.Len(t, seen, 50)

	_, err := GeneratePassword(3)
	assert.Error(t, err)
}

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken(22)
	require.NoError(t, err)
	assert.Len(t, token, 22)

	_, err = GenerateSecureToken(0)
	assert.Error(t, err)
}

func TestSecureCredential(t *testing.T) {
	_, err := NewSecureCredential("", "pw")
	assert.Error(t, err)

	sc, err := NewSecureCredential("uid=admin", "Secret123")
	require.NoError(t, err)
	u, p := sc.GetCredentials()
	assert.Equal(t, "uid=admin", u)
	assert.Equal(t, "Secret123", p)

	sc.Zeroize()
	u, p = sc.GetCredentials()
	assert.Empty(t, u)
	assert.Empty(t, p)
}

func TestMaskSensitiveData(t *testing.T) {
	assert.Equal(t, "***", MaskSensitiveData("abc"))
	assert.Equal(t, "a***e", MaskSensitiveData("abcde"))
	assert.Equal(t, "iv*******ov", MaskSensitiveData("ivan.ivanov"))
}

func TestValidateEmailFormat(t *testing.T) {
	valid := []string{"ivan@test.com", "first.last+tag@sub.example.org", "a@b.c", "иван@пример.рф"}
	invalid := []string{"", "ivan", "ivan@", "@test.com", "ivan@test", "ivan test@test.com", "ivan@test.", "ivan@@test.com"}

	for _, e := range valid {
		assert.True(t, ValidateEmailFormat(e), e)
	}
	for _, e := range invalid {
		assert.False(t, ValidateEmailFormat(e), e)
	}
}
