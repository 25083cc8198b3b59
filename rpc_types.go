package ipa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// generalizedTimeLayout is the LDAP GeneralizedTime format FreeIPA uses for
// krbPasswordExpiration, both over LDAP and inside JSON-RPC __datetime__ values.
const generalizedTimeLayout = "20060102150405Z"

// rpcEntryResult is the result member of user_show, user_add, user_mod and group_show.
type rpcEntryResult[T any] struct {
	Result  T               `json:"result"`
	Value   json.RawMessage `json:"value"`
	Summary *string         `json:"summary"`
}

// rpcFindResult is the result member of user_find.
type rpcFindResult[T any] struct {
	Result    []T  `json:"result"`
	Count     int  `json:"count"`
	Truncated bool `json:"truncated"`
}

// rpcMemberResult is the result member of group_add_member, which reports
// per-member failures instead of raising an error.
type rpcMemberResult struct {
	Completed int `json:"completed"`
	Failed    struct {
		Member struct {
			User  [][]string `json:"user"`
			Group [][]string `json:"group"`
		} `json:"member"`
	} `json:"failed"`
}

// userFailure returns the failure reason reported for uid, or the first reason.
func (r rpcMemberResult) userFailure(uid string) (string, bool) {
	var fallback string
	for _, f := range r.Failed.Member.User {
		if len(f) < 2 {
			continue
		}
		if f[0] == uid {
			return f[1], true
		}
		if fallback == "" {
			fallback = f[1]
		}
	}
	return fallback, fallback != ""
}

// rpcUser is a user entry as returned by FreeIPA: every attribute is multi-valued.
type rpcUser struct {
	UID                []string      `json:"uid"`
	GivenName          []string      `json:"givenname"`
	Surname            []string      `json:"sn"`
	CN                 []string      `json:"cn"`
	Mail               []string      `json:"mail"`
	Title              []string      `json:"title"`
	Phone              []string      `json:"telephonenumber"`
	Groups             []string      `json:"memberof_group"`
	Locked             rpcBool       `json:"nsaccountlock"`
	PasswordExpiration []rpcDateTime `json:"krbpasswordexpiration"`
	RandomPassword     string        `json:"randompassword"`
}

func (u rpcUser) toUser() User {
	user := User{
		UID:       first(u.UID),
		GivenName: first(u.GivenName),
		Surname:   first(u.Surname),
		FullName:  first(u.CN),
		Mail:      u.Mail,
		Title:     first(u.Title),
		Phone:     first(u.Phone),
		Groups:    u.Groups,
		Disabled:  bool(u.Locked),
	}
	if len(u.PasswordExpiration) > 0 && !u.PasswordExpiration[0].IsZero() {
		t := u.PasswordExpiration[0].Time
		user.PasswordExpiration = &t
	}
	return user
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// rpcBool decodes nsaccountlock, which FreeIPA reports either as a JSON
// boolean or as a list holding "TRUE"/"FALSE" depending on the server version.
type rpcBool bool

func (b *rpcBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*b = false
		return nil
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*b = rpcBool(bytes.Equal(data, []byte("true")))
		return nil
	}

	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return fmt.Errorf("nsaccountlock: unsupported value %s", data)
		}
		values = []string{single}
	}
	*b = rpcBool(len(values) > 0 && strings.EqualFold(values[0], "TRUE"))
	return nil
}

// rpcDateTime decodes FreeIPA's {"__datetime__": "20250101000000Z"} values.
type rpcDateTime struct {
	time.Time
}

func (d *rpcDateTime) UnmarshalJSON(data []byte) error {
	var raw struct {
		DateTime string `json:"__datetime__"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.DateTime == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(generalizedTimeLayout, raw.DateTime)
	if err != nil {
		return fmt.Errorf("parse __datetime__ %q: %w", raw.DateTime, err)
	}
	d.Time = t
	return nil
}
