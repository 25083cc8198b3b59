package ipa

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Backend selects how the client talks to FreeIPA.
type Backend string

const (
	// BackendRPC uses the FreeIPA JSON-RPC API over HTTPS.
	BackendRPC Backend = "rpc"
	// BackendLDAP talks to the 389-ds instance behind FreeIPA directly.
	BackendLDAP Backend = "ldap"
)

// DefaultAPIVersion is the FreeIPA API version sent with every JSON-RPC call.
const DefaultAPIVersion = "2.251"

// Config holds the directory endpoint settings shared by all operator sessions.
type Config struct {
	// Server is the directory URL: "https://ipa.example.com" for the RPC
	// backend, "ldaps://ipa.example.com:636" for the LDAP backend. A bare
	// host name is accepted and completed with the backend's scheme.
	Server string
	// Backend selects the transport; defaults to BackendRPC.
	Backend Backend
	// BaseDN is the directory suffix (e.g., "dc=example,dc=com"), LDAP only.
	BaseDN string
	// Realm is the Kerberos realm used for new principals, LDAP only.
	Realm string
	// APIVersion is the FreeIPA API version, RPC only.
	APIVersion string
	// Timeout bounds every directory call.
	Timeout time.Duration
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendRPC
	}
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Server != "" && !strings.Contains(c.Server, "://") {
		switch c.Backend {
		case BackendLDAP:
			c.Server = "ldaps://" + c.Server
		default:
			c.Server = "https://" + c.Server
		}
	}
	c.Server = strings.TrimRight(c.Server, "/")
	if c.Backend == BackendLDAP && c.Realm == "" && c.BaseDN != "" {
		c.Realm = realmFromBaseDN(c.BaseDN)
	}
}

func (c *Config) validate() error {
	if c.Server == "" {
		return fmt.Errorf("directory server is required")
	}
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid directory server %q: %w", c.Server, err)
	}
	switch c.Backend {
	case BackendRPC:
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("rpc backend requires an http(s) server URL, got %q", u.Scheme)
		}
	case BackendLDAP:
		if u.Scheme != "ldap" && u.Scheme != "ldaps" {
			return fmt.Errorf("ldap backend requires an ldap(s) server URL, got %q", u.Scheme)
		}
		if c.BaseDN == "" {
			return fmt.Errorf("ldap backend requires a base DN")
		}
	default:
		return fmt.Errorf("unknown directory backend %q", c.Backend)
	}
	return nil
}

// realmFromBaseDN derives "EXAMPLE.COM" from "dc=example,dc=com".
func realmFromBaseDN(baseDN string) string {
	var parts []string
	for _, rdn := range strings.Split(baseDN, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(rdn), "=")
		if ok && strings.EqualFold(k, "dc") {
			parts = append(parts, strings.ToUpper(v))
		}
	}
	return strings.Join(parts, ".")
}
