package ipa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	rpcLoginPath   = "/ipa/session/login_password"
	rpcSessionPath = "/ipa/session/json"
	rpcReferer     = "/ipa"
)

// rpcDirectory is a Directory backed by the FreeIPA JSON-RPC API. The
// operator's session lives in the handle's cookie jar.
type rpcDirectory struct {
	server     string
	apiVersion string
	http       *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ Directory = (*rpcDirectory)(nil)

// rpcRequest is the JSON-RPC envelope FreeIPA expects: params is a two
// element array of positional arguments and options.
type rpcRequest struct {
	Method string `json:"method"`
	Params [2]any `json:"params"`
	ID     int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (c *Client) loginRPC(ctx context.Context, username, password string) (*rpcDirectory, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("login: create cookie jar: %w", err)
	}
	hc := *c.httpClient
	hc.Jar = jar

	d := &rpcDirectory{
		server:     c.config.Server,
		apiVersion: c.config.APIVersion,
		http:       &hc,
		logger:     c.logger.With(slog.String("operator", username)),
	}

	form := url.Values{"user": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.server+rpcLoginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("login: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Referer", d.server+rpcReferer)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, NewDirectoryError("login", d.server, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return d, nil
	case http.StatusUnauthorized:
		reason := resp.Header.Get("X-IPA-Rejection-Reason")
		return nil, NewDirectoryError("login", d.server, ErrInvalidCredentials).
			WithCode(resp.StatusCode).
			WithMessage("", rejectionMessage(reason))
	default:
		return nil, NewDirectoryError("login", d.server, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)).
			WithCode(resp.StatusCode)
	}
}

func rejectionMessage(reason string) string {
	switch reason {
	case "password-expired":
		return "operator password expired"
	case "denied", "invalid-password", "":
		return "invalid username or password"
	default:
		return reason
	}
}

// call invokes method and decodes the "result" member into out, which may be nil.
func (d *rpcDirectory) call(ctx context.Context, method string, args []any, options map[string]any, out any) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return fmt.Errorf("%s: %w", method, ErrClosed)
	}

	start := time.Now()
	if args == nil {
		args = []any{}
	}
	opts := make(map[string]any, len(options)+1)
	for k, v := range options {
		opts[k] = v
	}
	opts["version"] = d.apiVersion

	body, err := json.Marshal(rpcRequest{Method: method, Params: [2]any{args, opts}})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.server+rpcSessionPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", d.server+rpcReferer)

	resp, err := d.http.Do(req)
	if err != nil {
		return NewDirectoryError(method, d.server, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return NewDirectoryError(method, d.server, ErrSessionExpired).WithCode(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return NewDirectoryError(method, d.server, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)).
			WithCode(resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return NewDirectoryError(method, d.server, fmt.Errorf("decode response: %w", err))
	}

	if envelope.Error != nil {
		d.logger.Debug("directory_call_rejected",
			slog.String("method", method),
			slog.Int("code", envelope.Error.Code),
			slog.String("name", envelope.Error.Name),
			slog.Duration("duration", time.Since(start)))
		return classifyRPCError(method, d.server, envelope.Error.Code, envelope.Error.Name, envelope.Error.Message)
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return NewDirectoryError(method, d.server, fmt.Errorf("decode result: %w", err))
		}
	}

	d.logger.Debug("directory_call_completed",
		slog.String("method", method),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Close logs the operator out of FreeIPA. Further calls return ErrClosed.
func (d *rpcDirectory) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := d.call(ctx, "session_logout", nil, nil, nil)

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
