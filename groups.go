package ipa

import (
	"context"
	"errors"

	"github.com/go-ldap/ldap/v3"
)

func (d *ldapDirectory) GroupExists(ctx context.Context, name string) (bool, error) {
	c, err := d.getConnection(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = c.Close() }()

	r, err := c.Search(&ldap.SearchRequest{
		BaseDN:       d.groupDN(name),
		Scope:        ldap.ScopeBaseObject,
		DerefAliases: ldap.NeverDerefAliases,
		Filter:       "(objectClass=groupOfNames)",
		Attributes:   []string{"cn"},
	})
	if err != nil {
		err = WrapLDAPError("group_show", d.server, err)
		if errors.Is(err, ErrGroupNotFound) {
			return false, nil
		}
		return false, err
	}
	return len(r.Entries) > 0, nil
}

func (d *ldapDirectory) AddGroupMember(ctx context.Context, group, uid string) error {
	c, err := d.getConnection(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	req := ldap.NewModifyRequest(d.groupDN(group), nil)
	req.Add("member", []string{d.userDN(uid)})
	if err := c.Modify(req); err != nil {
		return WrapLDAPError("group_add_member", d.server, err)
	}
	return nil
}
