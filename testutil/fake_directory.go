package testutil

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	ipa "github.com/netresearch/ipa-admin-portal"
)

// FakeDirectory is an in-memory ipa.Directory. Failures for a given call can
// be injected through Fail, keyed by "<method>:<argument>", e.g.
// "AddGroupMember:admins" or "DeleteUser:ivan.ivanov".
type FakeDirectory struct {
	mu sync.Mutex

	Users  map[string]*ipa.User
	Groups map[string][]string
	Fail   map[string]error

	// Calls records every method invocation as "<method>:<argument>".
	Calls []string
	// PasswordSeq is appended to generated passwords to make them distinct.
	PasswordSeq int
	Closed      bool
}

var _ ipa.Directory = (*FakeDirectory)(nil)

// NewFakeDirectory creates a directory holding the given groups.
func NewFakeDirectory(groups ...string) *FakeDirectory {
	f := &FakeDirectory{
		Users:  make(map[string]*ipa.User),
		Groups: make(map[string][]string),
		Fail:   make(map[string]error),
	}
	for _, g := range groups {
		f.Groups[g] = nil
	}
	return f
}

// AddTestUser seeds an existing account.
func (f *FakeDirectory) AddTestUser(uid string, mail ...string) *ipa.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &ipa.User{UID: uid, Mail: mail}
	f.Users[uid] = u
	return u
}

// HasUser reports whether uid exists.
func (f *FakeDirectory) HasUser(uid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Users[uid]
	return ok
}

// CallCount returns how many recorded calls start with prefix.
func (f *FakeDirectory) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Mutations returns the recorded calls that change directory state.
func (f *FakeDirectory) Mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		for _, m := range []string{"AddUser:", "DeleteUser:", "EnableUser:", "DisableUser:", "ResetPassword:", "AddGroupMember:"} {
			if strings.HasPrefix(c, m) {
				out = append(out, c)
			}
		}
	}
	return out
}

func (f *FakeDirectory) record(method, arg string) error {
	key := method + ":" + arg
	f.Calls = append(f.Calls, key)
	return f.Fail[key]
}

func notFound(uid string) error {
	return ipa.NewDirectoryError("user_show", "fake", ipa.ErrUserNotFound).WithMessage("NotFound", uid+": user not found")
}

func (f *FakeDirectory) ShowUser(_ context.Context, uid string) (*ipa.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ShowUser", uid); err != nil {
		return nil, err
	}
	u, ok := f.Users[uid]
	if !ok {
		return nil, notFound(uid)
	}
	cp := *u
	return &cp, nil
}

func (f *FakeDirectory) UserExists(_ context.Context, uid string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UserExists", uid); err != nil {
		return false, err
	}
	_, ok := f.Users[uid]
	return ok, nil
}

func (f *FakeDirectory) FindUsers(_ context.Context) ([]ipa.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FindUsers", ""); err != nil {
		return nil, err
	}
	uids := make([]string, 0, len(f.Users))
	for uid := range f.Users {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	out := make([]ipa.User, 0, len(uids))
	for _, uid := range uids {
		out = append(out, *f.Users[uid])
	}
	return out, nil
}

func (f *FakeDirectory) FindUsersByMail(_ context.Context, mail string) ([]ipa.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FindUsersByMail", mail); err != nil {
		return nil, err
	}
	uids := make([]string, 0, len(f.Users))
	for uid := range f.Users {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	var out []ipa.User
	for _, uid := range uids {
		u := f.Users[uid]
		if slices.ContainsFunc(u.Mail, func(m string) bool { return strings.EqualFold(m, mail) }) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *FakeDirectory) AddUser(_ context.Context, nu ipa.NewUser) (*ipa.CreatedUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddUser", nu.UID); err != nil {
		return nil, err
	}
	if _, ok := f.Users[nu.UID]; ok {
		return nil, ipa.NewDirectoryError("user_add", "fake", ipa.ErrUserExists).
			WithMessage("DuplicateEntry", fmt.Sprintf("user with name %q already exists", nu.UID))
	}
	u := &ipa.User{
		UID:       nu.UID,
		GivenName: nu.GivenName,
		Surname:   nu.Surname,
		FullName:  nu.FullName,
		Title:     nu.Title,
		Phone:     nu.Phone,
	}
	if nu.Mail != "" {
		u.Mail = []string{nu.Mail}
	}
	f.Users[nu.UID] = u
	f.PasswordSeq++
	return &ipa.CreatedUser{User: *u, Password: fmt.Sprintf("Secret-%d", f.PasswordSeq)}, nil
}

func (f *FakeDirectory) DeleteUser(_ context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteUser", uid); err != nil {
		return err
	}
	if _, ok := f.Users[uid]; !ok {
		return notFound(uid)
	}
	delete(f.Users, uid)
	for g, members := range f.Groups {
		f.Groups[g] = slices.DeleteFunc(members, func(m string) bool { return m == uid })
	}
	return nil
}

func (f *FakeDirectory) setDisabled(method, uid string, disabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(method, uid); err != nil {
		return err
	}
	u, ok := f.Users[uid]
	if !ok {
		return notFound(uid)
	}
	u.Disabled = disabled
	return nil
}

func (f *FakeDirectory) EnableUser(_ context.Context, uid string) error {
	return f.setDisabled("EnableUser", uid, false)
}

func (f *FakeDirectory) DisableUser(_ context.Context, uid string) error {
	return f.setDisabled("DisableUser", uid, true)
}

func (f *FakeDirectory) ResetPassword(_ context.Context, uid string) (*ipa.PasswordReset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ResetPassword", uid); err != nil {
		return nil, err
	}
	if _, ok := f.Users[uid]; !ok {
		return nil, notFound(uid)
	}
	f.PasswordSeq++
	return &ipa.PasswordReset{UID: uid, Password: fmt.Sprintf("Reset-%d", f.PasswordSeq)}, nil
}

func (f *FakeDirectory) GroupExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GroupExists", name); err != nil {
		return false, err
	}
	_, ok := f.Groups[name]
	return ok, nil
}

func (f *FakeDirectory) AddGroupMember(_ context.Context, group, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddGroupMember", group); err != nil {
		return err
	}
	members, ok := f.Groups[group]
	if !ok {
		return ipa.NewDirectoryError("group_add_member", "fake", ipa.ErrGroupNotFound).
			WithMessage("NotFound", group+": group not found")
	}
	if slices.Contains(members, uid) {
		return ipa.NewDirectoryError("group_add_member", "fake", ipa.ErrAlreadyMember).
			WithMessage("", "This entry is already a member")
	}
	f.Groups[group] = append(members, uid)
	if u, ok := f.Users[uid]; ok {
		u.Groups = append(u.Groups, group)
	}
	return nil
}

func (f *FakeDirectory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// FakeConnector hands out Dir for the listed credentials.
type FakeConnector struct {
	Dir         ipa.Directory
	Credentials map[string]string
}

func (c *FakeConnector) Login(_ context.Context, username, password string) (ipa.Directory, error) {
	if want, ok := c.Credentials[username]; !ok || want != password {
		return nil, ipa.ErrInvalidCredentials
	}
	return c.Dir, nil
}
