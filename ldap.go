package ipa

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the subset of *ldap.Conn the LDAP backend uses.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Del(req *ldap.DelRequest) error
	Modify(req *ldap.ModifyRequest) error
	PasswordModify(req *ldap.PasswordModifyRequest) (*ldap.PasswordModifyResult, error)
	Close() error
}

var _ Conn = (*ldap.Conn)(nil)

// Dialer opens an unauthenticated connection to server.
type Dialer func(ctx context.Context, server string, tlsConfig *tls.Config) (Conn, error)

// DialLDAP is the default Dialer built on ldap.DialURL.
func DialLDAP(ctx context.Context, server string, tlsConfig *tls.Config) (Conn, error) {
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	conn, err := ldap.DialURL(server,
		ldap.DialWithTLSConfig(tlsConfig),
		ldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(timeout)
	return conn, nil
}

// ldapDirectory is a Directory talking to FreeIPA's 389-ds instance. It binds
// as the operator for every operation; nothing is pooled between calls.
type ldapDirectory struct {
	server    string
	baseDN    string
	realm     string
	dial      Dialer
	tlsConfig *tls.Config
	logger    *slog.Logger

	generatePassword func() (string, error)

	mu     sync.Mutex
	creds  *SecureCredential
	closed bool
}

var _ Directory = (*ldapDirectory)(nil)

func (c *Client) loginLDAP(ctx context.Context, username, password string) (*ldapDirectory, error) {
	d := &ldapDirectory{
		server:           c.config.Server,
		baseDN:           c.config.BaseDN,
		realm:            c.config.Realm,
		dial:             c.dialer,
		tlsConfig:        c.tlsConfig,
		logger:           c.logger.With(slog.String("operator", username)),
		generatePassword: c.generatePassword,
	}

	creds, err := NewSecureCredential(d.operatorDN(username), password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	d.creds = creds

	conn, err := d.getConnection(ctx)
	if err != nil {
		creds.Zeroize()
		return nil, err
	}
	_ = conn.Close()

	return d, nil
}

// operatorDN maps a login name to its bind DN; full DNs are used as given.
func (d *ldapDirectory) operatorDN(username string) string {
	if strings.Contains(username, "=") {
		return username
	}
	return d.userDN(username)
}

func (d *ldapDirectory) usersBase() string {
	return "cn=users,cn=accounts," + d.baseDN
}

func (d *ldapDirectory) groupsBase() string {
	return "cn=groups,cn=accounts," + d.baseDN
}

func (d *ldapDirectory) userDN(uid string) string {
	return fmt.Sprintf("uid=%s,%s", ldap.EscapeDN(uid), d.usersBase())
}

func (d *ldapDirectory) groupDN(name string) string {
	return fmt.Sprintf("cn=%s,%s", ldap.EscapeDN(name), d.groupsBase())
}

// getConnection dials and binds as the operator.
func (d *ldapDirectory) getConnection(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	closed := d.closed
	creds := d.creds
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := d.dial(ctx, d.server, d.tlsConfig)
	if err != nil {
		return nil, WrapLDAPError("connect", d.server, err)
	}

	bindDN, password := creds.GetCredentials()
	if err := conn.Bind(bindDN, password); err != nil {
		_ = conn.Close()
		return nil, WrapLDAPError("bind", d.server, err)
	}
	return conn, nil
}

// Close forgets the operator's credentials. Further calls return ErrClosed.
func (d *ldapDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.creds.Zeroize()
	return nil
}
