package testutil

// UsersDN returns the FreeIPA user container below baseDN.
func UsersDN(baseDN string) string {
	return "cn=users,cn=accounts," + baseDN
}

// GroupsDN returns the FreeIPA group container below baseDN.
func GroupsDN(baseDN string) string {
	return "cn=groups,cn=accounts," + baseDN
}

// SeedFreeIPA loads a small FreeIPA-shaped tree into mock: the operator
// "admin" (password "Secret123"), the locked account "petr.petrov" that is a
// member of "admins" plus one non-group entry, and the group "admins".
func SeedFreeIPA(mock *MockLDAPConn, baseDN string) {
	users, groups := UsersDN(baseDN), GroupsDN(baseDN)

	mock.AddEntry("uid=admin,"+users, map[string][]string{
		"objectClass":  {"person"},
		"uid":          {"admin"},
		"userPassword": {"Secret123"},
	})
	mock.AddEntry("uid=petr.petrov,"+users, map[string][]string{
		"objectClass":           {"person"},
		"uid":                   {"petr.petrov"},
		"cn":                    {"Petr Petrov"},
		"mail":                  {"petr@test.com"},
		"memberOf":              {"cn=admins," + groups, "cn=hbac,cn=hbac," + baseDN},
		"nsAccountLock":         {"TRUE"},
		"krbPasswordExpiration": {"20250101000000Z"},
	})
	mock.AddEntry("cn=admins,"+groups, map[string][]string{
		"objectClass": {"groupOfNames"},
		"cn":          {"admins"},
	})
}
