package bulk

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	ipa "github.com/netresearch/ipa-admin-portal"
)

// foldEmail is the comparison key for e-mail addresses.
func foldEmail(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Snapshot is the set of existing user names and e-mail addresses, read once
// per bulk operation. It may go stale while the operation runs; rows created
// by the same operation are not added to it.
type Snapshot struct {
	usernames map[string]struct{}
	emails    map[string]struct{}
}

// NewSnapshot indexes users by name and by case-folded first e-mail address.
func NewSnapshot(users []ipa.User) *Snapshot {
	s := &Snapshot{
		usernames: make(map[string]struct{}, len(users)),
		emails:    make(map[string]struct{}, len(users)),
	}
	for _, u := range users {
		s.usernames[strings.ToLower(u.UID)] = struct{}{}
		if mail := u.PrimaryMail(); mail != "" {
			s.emails[foldEmail(mail)] = struct{}{}
		}
	}
	return s
}

// UserLister lists every account in the directory.
type UserLister interface {
	FindUsers(ctx context.Context) ([]ipa.User, error)
}

// TakeSnapshot reads every account from dir.
func TakeSnapshot(ctx context.Context, dir UserLister) (*Snapshot, error) {
	users, err := dir.FindUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("read directory snapshot: %w", err)
	}
	return NewSnapshot(users), nil
}

// HasUsername reports whether the account name is taken.
func (s *Snapshot) HasUsername(username string) bool {
	_, ok := s.usernames[strings.ToLower(username)]
	return ok
}

// HasEmail reports whether an account already uses the address.
func (s *Snapshot) HasEmail(email string) bool {
	_, ok := s.emails[foldEmail(email)]
	return ok
}

// Len returns the number of accounts in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.usernames)
}

// GroupLookup checks whether a group exists.
type GroupLookup interface {
	GroupExists(ctx context.Context, name string) (bool, error)
}

// GroupCache remembers group existence for the lifetime of one bulk
// operation. Lookup errors are not cached.
type GroupCache struct {
	dir   GroupLookup
	known map[string]bool
}

// NewGroupCache creates an empty cache in front of dir.
func NewGroupCache(dir GroupLookup) *GroupCache {
	return &GroupCache{dir: dir, known: make(map[string]bool)}
}

// Exists reports whether name exists, asking the directory at most once.
func (c *GroupCache) Exists(ctx context.Context, name string) (bool, error) {
	if ok, cached := c.known[name]; cached {
		return ok, nil
	}
	ok, err := c.dir.GroupExists(ctx, name)
	if err != nil {
		return false, err
	}
	c.known[name] = ok
	return ok, nil
}
