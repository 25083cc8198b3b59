package metrics

import (
	"context"
	"time"

	ipa "github.com/netresearch/ipa-admin-portal"
)

// Instrument wraps dir so every call is counted and timed.
func (m *Metrics) Instrument(dir ipa.Directory) ipa.Directory {
	if m == nil || dir == nil {
		return dir
	}
	return &instrumented{next: dir, m: m}
}

type instrumented struct {
	next ipa.Directory
	m    *Metrics
}

func (d *instrumented) ShowUser(ctx context.Context, uid string) (*ipa.User, error) {
	start := time.Now()
	u, err := d.next.ShowUser(ctx, uid)
	d.m.observeCall("user_show", start, err)
	return u, err
}

func (d *instrumented) UserExists(ctx context.Context, uid string) (bool, error) {
	start := time.Now()
	ok, err := d.next.UserExists(ctx, uid)
	d.m.observeCall("user_exists", start, err)
	return ok, err
}

func (d *instrumented) FindUsers(ctx context.Context) ([]ipa.User, error) {
	start := time.Now()
	users, err := d.next.FindUsers(ctx)
	d.m.observeCall("user_find", start, err)
	return users, err
}

func (d *instrumented) FindUsersByMail(ctx context.Context, mail string) ([]ipa.User, error) {
	start := time.Now()
	users, err := d.next.FindUsersByMail(ctx, mail)
	d.m.observeCall("user_find_by_mail", start, err)
	return users, err
}

func (d *instrumented) AddUser(ctx context.Context, user ipa.NewUser) (*ipa.CreatedUser, error) {
	start := time.Now()
	created, err := d.next.AddUser(ctx, user)
	d.m.observeCall("user_add", start, err)
	return created, err
}

func (d *instrumented) DeleteUser(ctx context.Context, uid string) error {
	start := time.Now()
	err := d.next.DeleteUser(ctx, uid)
	d.m.observeCall("user_del", start, err)
	return err
}

func (d *instrumented) EnableUser(ctx context.Context, uid string) error {
	start := time.Now()
	err := d.next.EnableUser(ctx, uid)
	d.m.observeCall("user_enable", start, err)
	return err
}

func (d *instrumented) DisableUser(ctx context.Context, uid string) error {
	start := time.Now()
	err := d.next.DisableUser(ctx, uid)
	d.m.observeCall("user_disable", start, err)
	return err
}

func (d *instrumented) ResetPassword(ctx context.Context, uid string) (*ipa.PasswordReset, error) {
	start := time.Now()
	reset, err := d.next.ResetPassword(ctx, uid)
	d.m.observeCall("user_reset_password", start, err)
	return reset, err
}

func (d *instrumented) GroupExists(ctx context.Context, name string) (bool, error) {
	start := time.Now()
	ok, err := d.next.GroupExists(ctx, name)
	d.m.observeCall("group_show", start, err)
	return ok, err
}

func (d *instrumented) AddGroupMember(ctx context.Context, group, uid string) error {
	start := time.Now()
	err := d.next.AddGroupMember(ctx, group, uid)
	d.m.observeCall("group_add_member", start, err)
	return err
}

func (d *instrumented) Close() error {
	return d.next.Close()
}
