package ipa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// userAttributes are fetched for every user search.
var userAttributes = []string{
	"uid", "givenName", "sn", "cn", "mail", "title", "telephoneNumber",
	"memberOf", "nsAccountLock", "krbPasswordExpiration",
}

// userObjectClasses mirrors what FreeIPA's user_add writes.
var userObjectClasses = []string{
	"top", "person", "organizationalperson", "inetorgperson", "inetuser",
	"posixaccount", "krbprincipalaux", "krbticketpolicyaux", "ipaobject",
}

const userFilter = "(objectClass=person)"

func (d *ldapDirectory) ShowUser(ctx context.Context, uid string) (*User, error) {
	c, err := d.getConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	r, err := c.Search(&ldap.SearchRequest{
		BaseDN:       d.userDN(uid),
		Scope:        ldap.ScopeBaseObject,
		DerefAliases: ldap.NeverDerefAliases,
		Filter:       userFilter,
		Attributes:   userAttributes,
	})
	if err != nil {
		return nil, WrapLDAPError("user_show", d.server, err)
	}
	if len(r.Entries) == 0 {
		return nil, NewDirectoryError("user_show", d.server, ErrUserNotFound).WithMessage("", uid+": user not found")
	}

	user := d.userFromEntry(r.Entries[0])
	return &user, nil
}

func (d *ldapDirectory) UserExists(ctx context.Context, uid string) (bool, error) {
	_, err := d.ShowUser(ctx, uid)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUserNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (d *ldapDirectory) FindUsers(ctx context.Context) ([]User, error) {
	return d.searchUsers(ctx, "user_find", userFilter)
}

func (d *ldapDirectory) FindUsersByMail(ctx context.Context, mail string) ([]User, error) {
	filter := fmt.Sprintf("(&%s(mail=%s))", userFilter, ldap.EscapeFilter(strings.ToLower(mail)))
	return d.searchUsers(ctx, "user_find", filter)
}

func (d *ldapDirectory) searchUsers(ctx context.Context, op, filter string) ([]User, error) {
	c, err := d.getConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	r, err := c.Search(&ldap.SearchRequest{
		BaseDN:       d.usersBase(),
		Scope:        ldap.ScopeSingleLevel,
		DerefAliases: ldap.NeverDerefAliases,
		Filter:       filter,
		Attributes:   userAttributes,
	})
	if err != nil {
		return nil, WrapLDAPError(op, d.server, err)
	}

	users := make([]User, 0, len(r.Entries))
	for _, entry := range r.Entries {
		users = append(users, d.userFromEntry(entry))
	}
	return users, nil
}

func (d *ldapDirectory) AddUser(ctx context.Context, user NewUser) (*CreatedUser, error) {
	password, err := d.generatePassword()
	if err != nil {
		return nil, fmt.Errorf("user_add: %w", err)
	}

	c, err := d.getConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	dn := d.userDN(user.UID)
	req := ldap.NewAddRequest(dn, nil)
	req.Attribute("objectClass", userObjectClasses)
	req.Attribute("uid", []string{user.UID})
	req.Attribute("givenName", []string{user.GivenName})
	req.Attribute("sn", []string{user.Surname})
	req.Attribute("cn", []string{user.fullName()})
	req.Attribute("displayName", []string{user.fullName()})
	// -1 asks the DNA plugin to allocate uid and gid numbers.
	req.Attribute("uidNumber", []string{"-1"})
	req.Attribute("gidNumber", []string{"-1"})
	req.Attribute("homeDirectory", []string{"/home/" + user.UID})
	req.Attribute("loginShell", []string{"/bin/sh"})
	req.Attribute("ipaUniqueID", []string{"autogenerate"})
	req.Attribute("krbPrincipalName", []string{user.UID + "@" + d.realm})
	req.Attribute("userPassword", []string{password})
	if user.Mail != "" {
		req.Attribute("mail", []string{user.Mail})
	}
	if user.Title != "" {
		req.Attribute("title", []string{user.Title})
	}
	if user.Phone != "" {
		req.Attribute("telephoneNumber", []string{user.Phone})
	}

	if err := c.Add(req); err != nil {
		return nil, WrapLDAPError("user_add", d.server, err)
	}

	d.logger.Debug("directory_user_added", slog.String("uid", user.UID))

	created := &CreatedUser{
		User: User{
			UID:       user.UID,
			GivenName: user.GivenName,
			Surname:   user.Surname,
			FullName:  user.fullName(),
			Title:     user.Title,
			Phone:     user.Phone,
		},
		Password: password,
	}
	if user.Mail != "" {
		created.Mail = []string{user.Mail}
	}
	return created, nil
}

func (d *ldapDirectory) DeleteUser(ctx context.Context, uid string) error {
	c, err := d.getConnection(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Del(ldap.NewDelRequest(d.userDN(uid), nil)); err != nil {
		return WrapLDAPError("user_del", d.server, err)
	}
	return nil
}

func (d *ldapDirectory) EnableUser(ctx context.Context, uid string) error {
	return d.setAccountLock(ctx, "user_enable", uid, false)
}

func (d *ldapDirectory) DisableUser(ctx context.Context, uid string) error {
	return d.setAccountLock(ctx, "user_disable", uid, true)
}

func (d *ldapDirectory) setAccountLock(ctx context.Context, op, uid string, locked bool) error {
	c, err := d.getConnection(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	value := "FALSE"
	if locked {
		value = "TRUE"
	}
	req := ldap.NewModifyRequest(d.userDN(uid), nil)
	req.Replace("nsAccountLock", []string{value})
	if err := c.Modify(req); err != nil {
		return WrapLDAPError(op, d.server, err)
	}
	return nil
}

func (d *ldapDirectory) ResetPassword(ctx context.Context, uid string) (*PasswordReset, error) {
	password, err := d.generatePassword()
	if err != nil {
		return nil, fmt.Errorf("user_mod: %w", err)
	}

	c, err := d.getConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	if _, err := c.PasswordModify(ldap.NewPasswordModifyRequest(d.userDN(uid), "", password)); err != nil {
		return nil, WrapLDAPError("user_mod", d.server, err)
	}

	reset := &PasswordReset{UID: uid, Password: password}

	// The expiry is informational; failing to read it does not undo the reset.
	r, err := c.Search(&ldap.SearchRequest{
		BaseDN:     d.userDN(uid),
		Scope:      ldap.ScopeBaseObject,
		Filter:     userFilter,
		Attributes: []string{"krbPasswordExpiration"},
	})
	if err != nil || len(r.Entries) == 0 {
		d.logger.Debug("password_expiration_unavailable", slog.String("uid", uid))
		return reset, nil
	}
	reset.Expiration = parseGeneralizedTime(r.Entries[0].GetAttributeValue("krbPasswordExpiration"))
	return reset, nil
}

func (d *ldapDirectory) userFromEntry(entry *ldap.Entry) User {
	user := User{
		UID:       entry.GetAttributeValue("uid"),
		GivenName: entry.GetAttributeValue("givenName"),
		Surname:   entry.GetAttributeValue("sn"),
		FullName:  entry.GetAttributeValue("cn"),
		Mail:      entry.GetAttributeValues("mail"),
		Title:     entry.GetAttributeValue("title"),
		Phone:     entry.GetAttributeValue("telephoneNumber"),
		Disabled:  strings.EqualFold(entry.GetAttributeValue("nsAccountLock"), "TRUE"),
	}
	user.PasswordExpiration = parseGeneralizedTime(entry.GetAttributeValue("krbPasswordExpiration"))

	suffix := "," + strings.ToLower(d.groupsBase())
	for _, dn := range entry.GetAttributeValues("memberOf") {
		if !strings.HasSuffix(strings.ToLower(dn), suffix) {
			continue
		}
		if cn := rdnValue(dn); cn != "" {
			user.Groups = append(user.Groups, cn)
		}
	}
	return user
}

// rdnValue returns the value of the first RDN of dn.
func rdnValue(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return ""
	}
	return parsed.RDNs[0].Attributes[0].Value
}

func parseGeneralizedTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(generalizedTimeLayout, value)
	if err != nil {
		return nil
	}
	return &t
}
