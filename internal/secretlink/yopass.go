// Package secretlink hands generated passwords to their recipients through
// one-time links on a Yopass server instead of showing them in logs or UI.
package secretlink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"

	ipa "github.com/netresearch/ipa-admin-portal"
)

const keyLength = 22

// Generator wraps a secret into a single-use URL.
type Generator interface {
	CreateLink(ctx context.Context, username, password string) (string, error)
	// Check verifies the link service accepts secrets.
	Check(ctx context.Context) error
}

// Config configures a Yopass client.
type Config struct {
	// URL is the public address of the Yopass web UI, used to build links.
	URL string
	// APIURL is the Yopass API address; it defaults to URL.
	APIURL string
	// Expiration is how long a secret is kept; Yopass accepts 1h, 1d and 1w.
	Expiration time.Duration
	OneTime    bool
	Timeout    time.Duration
}

// Yopass stores client-side encrypted secrets on a Yopass server. The
// decryption key never leaves this process except as part of the link.
type Yopass struct {
	url        string
	apiURL     string
	expiration int
	oneTime    bool
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Generator = (*Yopass)(nil)

// APIError is a non-2xx answer from the Yopass API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("yopass returned %d: %s", e.StatusCode, e.Message)
}

// NewYopass creates a client. httpClient may be nil.
func NewYopass(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Yopass, error) {
	if cfg.URL == "" {
		return nil, errors.New("secretlink: yopass url is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = cfg.URL
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = 7 * 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Yopass{
		url:        strings.TrimSuffix(cfg.URL, "/"),
		apiURL:     strings.TrimSuffix(cfg.APIURL, "/"),
		expiration: int(cfg.Expiration / time.Second),
		oneTime:    cfg.OneTime,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "secretlink")),
	}, nil
}

// CreateLink stores "<username>\n<password>" and returns its link.
func (y *Yopass) CreateLink(ctx context.Context, username, password string) (string, error) {
	return y.store(ctx, username+"\n"+password, y.expiration, y.oneTime)
}

// Check stores a throwaway one-hour secret.
func (y *Yopass) Check(ctx context.Context) error {
	_, err := y.store(ctx, "connectivity check", int(time.Hour/time.Second), true)
	return err
}

type storeRequest struct {
	Message    string `json:"message"`
	Expiration int    `json:"expiration"`
	OneTime    bool   `json:"one_time"`
}

type storeResponse struct {
	Message string `json:"message"`
}

func (y *Yopass) store(ctx context.Context, secret string, expiration int, oneTime bool) (string, error) {
	key, err := ipa.GenerateSecureToken(keyLength)
	if err != nil {
		return "", err
	}
	ciphertext, err := Encrypt(secret, key)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(storeRequest{Message: ciphertext, Expiration: expiration, OneTime: oneTime})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.apiURL+"/secret", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := y.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("yopass request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr storeResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return "", &APIError{StatusCode: resp.StatusCode, Message: apiErr.Message}
		}
		return "", &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var out storeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Message == "" {
		return "", errors.New("yopass returned an empty secret id")
	}

	y.logger.Debug("secret_stored", slog.Duration("duration", time.Since(start)))
	return fmt.Sprintf("%s/#/s/%s/%s", y.url, out.Message, key), nil
}

// Encrypt symmetrically encrypts plaintext with key into an ASCII-armoured
// OpenPGP message, the format the Yopass web UI decrypts.
func Encrypt(plaintext, key string) (string, error) {
	var buf bytes.Buffer
	armored, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return "", fmt.Errorf("armor: %w", err)
	}
	w, err := openpgp.SymmetricallyEncrypt(armored, []byte(key), nil, nil)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if err := armored.Close(); err != nil {
		return "", fmt.Errorf("armor: %w", err)
	}
	return buf.String(), nil
}
