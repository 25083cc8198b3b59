package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	ipa "github.com/netresearch/ipa-admin-portal"
)

// MailFinder looks accounts up by e-mail address.
type MailFinder interface {
	FindUsersByMail(ctx context.Context, mail string) ([]ipa.User, error)
}

// NotFoundError reports an e-mail identifier that matches no account.
type NotFoundError struct {
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no user found with email %s", e.Identifier)
}

// Unwrap lets errors.Is match ipa.ErrUserNotFound.
func (e *NotFoundError) Unwrap() error {
	return ipa.ErrUserNotFound
}

// Resolver maps identifiers to user names.
type Resolver struct {
	dir    MailFinder
	logger *slog.Logger
}

// NewResolver creates a Resolver querying dir.
func NewResolver(dir MailFinder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{dir: dir, logger: logger}
}

// Resolve returns identifier unchanged when it contains no "@"; no existence
// check is made, so the caller's next directory call reports a missing
// account. An e-mail is matched case-insensitively against each account's
// first listed address.
//
// When several accounts share the address the first one in backend order is
// returned. That order is unspecified, so the choice is not deterministic
// under duplicate data; it is logged as identifier_resolution_ambiguous.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (string, error) {
	if !strings.Contains(identifier, "@") {
		return identifier, nil
	}

	users, err := r.dir.FindUsersByMail(ctx, strings.ToLower(identifier))
	if err != nil {
		return "", err
	}

	want := foldEmail(identifier)
	var matches []string
	for _, u := range users {
		if foldEmail(u.PrimaryMail()) == want {
			matches = append(matches, u.UID)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Identifier: identifier}
	case 1:
		return matches[0], nil
	default:
		r.logger.Warn("identifier_resolution_ambiguous",
			slog.String("identifier", identifier),
			slog.Any("candidates", matches),
			slog.String("chosen", matches[0]))
		return matches[0], nil
	}
}
