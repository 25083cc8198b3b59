package ipa

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCBoolDecoding(t *testing.T) {
	tests := map[string]bool{
		`true`:      true,
		`false`:     false,
		`null`:      false,
		`["TRUE"]`:  true,
		`["FALSE"]`: false,
		`"True"`:    true,
		`[]`:        false,
	}
	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			var b rpcBool
			require.NoError(t, json.Unmarshal([]byte(input), &b))
			assert.Equal(t, want, bool(b))
		})
	}

	var b rpcBool
	assert.Error(t, json.Unmarshal([]byte(`{}`), &b))
}

func TestRPCUserDecoding(t *testing.T) {
	raw := `{
		"uid": ["ivan.ivanov"],
		"mail": ["ivan@test.com", "i.ivanov@test.com"],
		"telephonenumber": ["+7 900 000 00 00"],
		"krbpasswordexpiration": [{"__datetime__": "20250315101500Z"}]
	}`
	var u rpcUser
	require.NoError(t, json.Unmarshal([]byte(raw), &u))

	user := u.toUser()
	assert.Equal(t, "ivan.ivanov", user.UID)
	assert.Equal(t, "ivan@test.com", user.PrimaryMail())
	assert.Equal(t, "+7 900 000 00 00", user.Phone)
	assert.False(t, user.Disabled)
	require.NotNil(t, user.PasswordExpiration)
	assert.Equal(t, "2025-03-15T10:15:00Z", user.PasswordExpiration.Format("2006-01-02T15:04:05Z07:00"))
}

func TestRPCMemberResultFailure(t *testing.T) {
	var res rpcMemberResult
	require.NoError(t, json.Unmarshal([]byte(`{
		"completed": 0,
		"failed": {"member": {"user": [["other", "no such entry"], ["ivan.ivanov", "This entry is already a member"]], "group": []}}
	}`), &res))

	reason, ok := res.userFailure("ivan.ivanov")
	require.True(t, ok)
	assert.Equal(t, "This entry is already a member", reason)

	reason, ok = res.userFailure("someone")
	require.True(t, ok)
	assert.Equal(t, "no such entry", reason)
}
