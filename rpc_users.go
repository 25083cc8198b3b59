package ipa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

func (d *rpcDirectory) ShowUser(ctx context.Context, uid string) (*User, error) {
	var res rpcEntryResult[rpcUser]
	if err := d.call(ctx, "user_show", []any{uid}, map[string]any{"all": true}, &res); err != nil {
		return nil, err
	}
	user := res.Result.toUser()
	return &user, nil
}

func (d *rpcDirectory) UserExists(ctx context.Context, uid string) (bool, error) {
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

func (d *rpcDirectory) FindUsers(ctx context.Context) ([]User, error) {
	return d.findUsers(ctx, map[string]any{"all": true, "sizelimit": 0})
}

func (d *rpcDirectory) FindUsersByMail(ctx context.Context, mail string) ([]User, error) {
	return d.findUsers(ctx, map[string]any{"mail": strings.ToLower(mail)})
}

func (d *rpcDirectory) findUsers(ctx context.Context, options map[string]any) ([]User, error) {
	var res rpcFindResult[rpcUser]
	if err := d.call(ctx, "user_find", nil, options, &res); err != nil {
		return nil, err
	}
	if res.Truncated {
		d.logger.Warn("directory_search_truncated", slog.Int("count", res.Count))
	}
	users := make([]User, 0, len(res.Result))
	for _, u := range res.Result {
		users = append(users, u.toUser())
	}
	return users, nil
}

func (d *rpcDirectory) AddUser(ctx context.Context, user NewUser) (*CreatedUser, error) {
	options := map[string]any{
		"givenname": user.GivenName,
		"sn":        user.Surname,
		"cn":        user.fullName(),
		"random":    true,
	}
	if user.Mail != "" {
		options["mail"] = user.Mail
	}
	if user.Title != "" {
		options["title"] = user.Title
	}
	if user.Phone != "" {
		options["telephonenumber"] = user.Phone
	}

	var res rpcEntryResult[rpcUser]
	if err := d.call(ctx, "user_add", []any{user.UID}, options, &res); err != nil {
		return nil, err
	}
	if res.Result.RandomPassword == "" {
		return nil, NewDirectoryError("user_add", d.server, fmt.Errorf("server returned no random password for %q", user.UID))
	}

	return &CreatedUser{
		User:     res.Result.toUser(),
		Password: res.Result.RandomPassword,
	}, nil
}

func (d *rpcDirectory) DeleteUser(ctx context.Context, uid string) error {
	return d.call(ctx, "user_del", []any{uid}, nil, nil)
}

func (d *rpcDirectory) EnableUser(ctx context.Context, uid string) error {
	return d.call(ctx, "user_enable", []any{uid}, nil, nil)
}

func (d *rpcDirectory) DisableUser(ctx context.Context, uid string) error {
	return d.call(ctx, "user_disable", []any{uid}, nil, nil)
}

func (d *rpcDirectory) ResetPassword(ctx context.Context, uid string) (*PasswordReset, error) {
	var res rpcEntryResult[rpcUser]
	if err := d.call(ctx, "user_mod", []any{uid}, map[string]any{"random": true, "all": true}, &res); err != nil {
		return nil, err
	}
	if res.Result.RandomPassword == "" {
		return nil, NewDirectoryError("user_mod", d.server, fmt.Errorf("server returned no random password for %q", uid))
	}
	return &PasswordReset{
		UID:        uid,
		Password:   res.Result.RandomPassword,
		Expiration: res.Result.toUser().PasswordExpiration,
	}, nil
}

func (d *rpcDirectory) GroupExists(ctx context.Context, name string) (bool, error) {
	err := d.call(ctx, "group_show", []any{name}, nil, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrGroupNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (d *rpcDirectory) AddGroupMember(ctx context.Context, group, uid string) error {
	var res rpcMemberResult
	if err := d.call(ctx, "group_add_member", []any{group}, map[string]any{"user": []string{uid}}, &res); err != nil {
		return err
	}
	if res.Completed > 0 {
		return nil
	}

	reason, ok := res.userFailure(uid)
	if !ok {
		reason = "no member was added"
	}
	return NewDirectoryError("group_add_member", d.server, memberFailure(reason)).WithMessage("", reason)
}

// memberFailure classifies the free-text reasons FreeIPA reports per member.
func memberFailure(reason string) error {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "already a member"):
		return ErrAlreadyMember
	case strings.Contains(lower, "no such entry"):
		return ErrUserNotFound
	default:
		return errors.New(reason)
	}
}
