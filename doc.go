// Package ipa is a small client for administering accounts in a FreeIPA
// directory on behalf of an authenticated operator.
//
// The package hides the two ways of talking to FreeIPA behind one
// [Directory] interface:
//   - the FreeIPA JSON-RPC API (/ipa/session/json), the default
//   - the underlying 389-ds LDAP tree through go-ldap
//
// Every Directory handle is bound to exactly one operator: it is obtained
// from [Client.Login] with that operator's credentials and every call made
// through it is authorised as that operator. Handles are not shared between
// operators and must be closed when the operator's session ends.
//
// # Basic Usage
//
//	client, err := ipa.New(ipa.Config{
//		Server:  "https://ipa.example.com",
//		Backend: ipa.BackendRPC,
//	}, ipa.WithLogger(logger))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	dir, err := client.Login(ctx, "admin", "secret")
//	if err != nil {
//		log.Printf("login failed: %v", err)
//		return
//	}
//	defer dir.Close()
//
//	user, err := dir.ShowUser(ctx, "ivan.ivanov")
//	if errors.Is(err, ipa.ErrUserNotFound) {
//		// absent
//	}
//
// # Errors
//
// Absence is reported through the typed sentinels [ErrUserNotFound] and
// [ErrGroupNotFound], distinct from transport failures. Everything the
// directory rejects is returned as a [*DirectoryError] carrying the server's
// message verbatim.
package ipa
