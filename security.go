package ipa

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// SecureCredential holds a bind DN and password as byte slices so they can
// be overwritten when the operator's session ends.
type SecureCredential struct {
	mutex    sync.RWMutex
	username []byte
	password []byte
}

// NewSecureCredential copies username and password into a SecureCredential.
func NewSecureCredential(username, password string) (*SecureCredential, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	return &SecureCredential{
		username: []byte(username),
		password: []byte(password),
	}, nil
}

// GetCredentials returns the stored username and password.
func (sc *SecureCredential) GetCredentials() (string, string) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return string(sc.username), string(sc.password)
}

// Zeroize overwrites the stored credentials.
func (sc *SecureCredential) Zeroize() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	for i := range sc.username {
		sc.username[i] = 0
	}
	for i := range sc.password {
		sc.password[i] = 0
	}
	sc.username = nil
	sc.password = nil
}

// DefaultPasswordLength matches the length of FreeIPA's server-generated passwords.
const DefaultPasswordLength = 16

const (
	passwordUpper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	passwordLower   = "abcdefghijkmnopqrstuvwxyz"
	passwordDigits  = "23456789"
	passwordSymbols = "!#%+-=?@_"
)

// GeneratePassword returns a random password of the given length containing
// at least one upper-case letter, lower-case letter, digit and symbol.
// Visually ambiguous characters are left out.
func GeneratePassword(length int) (string, error) {
	classes := []string{passwordUpper, passwordLower, passwordDigits, passwordSymbols}
	if length < len(classes) {
		return "", fmt.Errorf("password length must be at least %d", len(classes))
	}
	all := strings.Join(classes, "")

	out := make([]byte, length)
	for i := range out {
		set := all
		if i < len(classes) {
			set = classes[i]
		}
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	// Shuffle so the class-guaranteed characters are not always in front.
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate password: %w", err)
	}
	return set[n.Int64()], nil
}

// GenerateSecureToken generates a cryptographically secure random token
// drawn from the URL-safe alphabet.
func GenerateSecureToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("token length must be positive")
	}

	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	out := make([]byte, length)
	for i := range out {
		c, err := randomChar(chars)
		if err != nil {
			return "", fmt.Errorf("failed to generate secure token: %w", err)
		}
		out[i] = c
	}
	return string(out), nil
}

// maskSensitiveData masks sensitive information for logging
func maskSensitiveData(data string) string {
	if len(data) <= 4 {
		return "***"
	}

	// Show first 2 and last 2 characters, mask the middle
	visible := 2
	if len(data) < 6 {
		visible = 1
	}

	prefix := data[:visible]
	suffix := data[len(data)-visible:]
	masked := strings.Repeat("*", len(data)-2*visible)

	return prefix + masked + suffix
}

// MaskSensitiveData masks the middle of data for logging.
func MaskSensitiveData(data string) string {
	return maskSensitiveData(data)
}
