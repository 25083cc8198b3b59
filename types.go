package ipa

import (
	"context"
	"time"
)

// User is an account as reported by the directory.
type User struct {
	UID       string   `json:"uid"`
	GivenName string   `json:"given_name,omitempty"`
	Surname   string   `json:"surname,omitempty"`
	FullName  string   `json:"full_name,omitempty"`
	Mail      []string `json:"mail,omitempty"`
	Title     string   `json:"title,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	// Groups is a list of group names the account is a direct member of.
	Groups   []string `json:"groups,omitempty"`
	Disabled bool     `json:"disabled"`
	// PasswordExpiration is nil when the directory reports no expiry.
	PasswordExpiration *time.Time `json:"password_expiration,omitempty"`
}

// PrimaryMail returns the first listed address, or "" when the account has none.
func (u User) PrimaryMail() string {
	if len(u.Mail) == 0 {
		return ""
	}
	return u.Mail[0]
}

// NewUser describes an account to be created.
type NewUser struct {
	UID       string
	GivenName string
	Surname   string
	// FullName defaults to "GivenName Surname" when empty.
	FullName string
	Mail     string
	Title    string
	Phone    string
}

func (n NewUser) fullName() string {
	if n.FullName != "" {
		return n.FullName
	}
	return n.GivenName + " " + n.Surname
}

// CreatedUser is the outcome of a successful AddUser call.
type CreatedUser struct {
	User
	// Password is the random initial password generated for the account.
	Password string `json:"-"`
}

// PasswordReset is the outcome of a successful ResetPassword call.
type PasswordReset struct {
	UID        string
	Password   string
	Expiration *time.Time
}

// Directory is a handle to the directory bound to one authenticated operator.
type Directory interface {
	// ShowUser returns the account named uid, or ErrUserNotFound.
	ShowUser(ctx context.Context, uid string) (*User, error)
	// UserExists reports whether an account named uid exists.
	UserExists(ctx context.Context, uid string) (bool, error)
	// FindUsers returns every account in the directory.
	FindUsers(ctx context.Context) ([]User, error)
	// FindUsersByMail returns the accounts carrying mail, in backend order.
	FindUsersByMail(ctx context.Context, mail string) ([]User, error)
	// AddUser creates an account with a server-generated random password.
	AddUser(ctx context.Context, user NewUser) (*CreatedUser, error)
	DeleteUser(ctx context.Context, uid string) error
	EnableUser(ctx context.Context, uid string) error
	DisableUser(ctx context.Context, uid string) error
	// ResetPassword replaces the account's password with a random one.
	ResetPassword(ctx context.Context, uid string) (*PasswordReset, error)
	// GroupExists reports whether a group named name exists.
	GroupExists(ctx context.Context, name string) (bool, error)
	// AddGroupMember adds uid to group.
	AddGroupMember(ctx context.Context, group, uid string) error
	// Close ends the operator's session with the directory.
	Close() error
}

// Connector authenticates operators and hands out Directory handles bound to them.
type Connector interface {
	Login(ctx context.Context, username, password string) (Directory, error)
}
