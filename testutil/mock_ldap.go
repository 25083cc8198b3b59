package testutil

import (
	"errors"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// MockLDAPConn is an in-memory LDAP connection holding a flat set of entries.
// Every method can be overridden through its *Func field; calls are recorded.
type MockLDAPConn struct {
	mu sync.Mutex

	// Configuration
	BindFunc           func(username, password string) error
	SearchFunc         func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	AddFunc            func(req *ldap.AddRequest) error
	DelFunc            func(req *ldap.DelRequest) error
	ModifyFunc         func(req *ldap.ModifyRequest) error
	PasswordModifyFunc func(req *ldap.PasswordModifyRequest) (*ldap.PasswordModifyResult, error)

	// State tracking
	BindCalls   []BindCall
	SearchCalls []*ldap.SearchRequest
	AddCalls    []*ldap.AddRequest
	DelCalls    []*ldap.DelRequest
	ModifyCalls []*ldap.ModifyRequest
	Closed      int

	entries map[string]*mockEntry
}

// BindCall records a bind operation
type BindCall struct {
	Username string
	Password string
}

type mockEntry struct {
	dn    string
	attrs map[string][]string
}

// NewMockLDAPConn creates an empty directory.
func NewMockLDAPConn() *MockLDAPConn {
	return &MockLDAPConn{entries: make(map[string]*mockEntry)}
}

// AddEntry stores an entry; attribute names are case-insensitive.
func (m *MockLDAPConn) AddEntry(dn string, attrs map[string][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putEntry(dn, attrs)
}

// Entry returns a copy of the attributes of dn, or nil.
func (m *MockLDAPConn) Entry(dn string) map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[strings.ToLower(dn)]
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(e.attrs))
	for k, v := range e.attrs {
		out[k] = slices.Clone(v)
	}
	return out
}

func (m *MockLDAPConn) putEntry(dn string, attrs map[string][]string) {
	e := &mockEntry{dn: dn, attrs: make(map[string][]string, len(attrs))}
	for k, v := range attrs {
		e.attrs[strings.ToLower(k)] = slices.Clone(v)
	}
	m.entries[strings.ToLower(dn)] = e
}

func (m *MockLDAPConn) Bind(username, password string) error {
	m.mu.Lock()
	m.BindCalls = append(m.BindCalls, BindCall{Username: username, Password: password})
	fn := m.BindFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(username, password)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[strings.ToLower(username)]
	if !ok || password == "" || !slices.Contains(e.attrs["userpassword"], password) {
		return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	}
	return nil
}

var equalityRegex = regexp.MustCompile(`\(([a-zA-Z]+)=([^()*]*)\)`)

func (m *MockLDAPConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	m.mu.Lock()
	m.SearchCalls = append(m.SearchCalls, req)
	fn := m.SearchFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	base := strings.ToLower(req.BaseDN)
	result := &ldap.SearchResult{}

	if req.Scope == ldap.ScopeBaseObject {
		e, ok := m.entries[base]
		if !ok {
			return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
		}
		if matchesFilter(e, req.Filter) {
			result.Entries = append(result.Entries, e.toEntry(req.Attributes))
		}
		return result, nil
	}

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !strings.HasSuffix(k, ","+base) {
			continue
		}
		if req.Scope == ldap.ScopeSingleLevel && strings.Count(k, ",") != strings.Count(base, ",")+1 {
			continue
		}
		if e := m.entries[k]; matchesFilter(e, req.Filter) {
			result.Entries = append(result.Entries, e.toEntry(req.Attributes))
		}
	}
	return result, nil
}

// matchesFilter understands the equality terms of an AND filter, which is
// all the code under test emits.
func matchesFilter(e *mockEntry, filter string) bool {
	for _, m := range equalityRegex.FindAllStringSubmatch(filter, -1) {
		attr, want := strings.ToLower(m[1]), m[2]
		found := false
		for _, v := range e.attrs[attr] {
			if strings.EqualFold(v, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (e *mockEntry) toEntry(attributes []string) *ldap.Entry {
	attrs := make(map[string][]string)
	for _, name := range attributes {
		if v, ok := e.attrs[strings.ToLower(name)]; ok {
			attrs[name] = v
		}
	}
	return ldap.NewEntry(e.dn, attrs)
}

func (m *MockLDAPConn) Add(req *ldap.AddRequest) error {
	m.mu.Lock()
	m.AddCalls = append(m.AddCalls, req)
	fn := m.AddFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[strings.ToLower(req.DN)]; ok {
		return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("entry already exists"))
	}
	attrs := make(map[string][]string, len(req.Attributes))
	for _, a := range req.Attributes {
		attrs[a.Type] = a.Vals
	}
	m.putEntry(req.DN, attrs)
	return nil
}

func (m *MockLDAPConn) Del(req *ldap.DelRequest) error {
	m.mu.Lock()
	m.DelCalls = append(m.DelCalls, req)
	fn := m.DelFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(req.DN)
	if _, ok := m.entries[key]; !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	delete(m.entries, key)
	return nil
}

func (m *MockLDAPConn) Modify(req *ldap.ModifyRequest) error {
	m.mu.Lock()
	m.ModifyCalls = append(m.ModifyCalls, req)
	fn := m.ModifyFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[strings.ToLower(req.DN)]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	for _, change := range req.Changes {
		attr := strings.ToLower(change.Modification.Type)
		switch change.Operation {
		case ldap.AddAttribute:
			for _, v := range change.Modification.Vals {
				if slices.ContainsFunc(e.attrs[attr], func(existing string) bool { return strings.EqualFold(existing, v) }) {
					return ldap.NewError(ldap.LDAPResultAttributeOrValueExists, errors.New("value already exists"))
				}
				e.attrs[attr] = append(e.attrs[attr], v)
			}
		case ldap.ReplaceAttribute:
			e.attrs[attr] = slices.Clone(change.Modification.Vals)
		case ldap.DeleteAttribute:
			delete(e.attrs, attr)
		}
	}
	return nil
}

func (m *MockLDAPConn) PasswordModify(req *ldap.PasswordModifyRequest) (*ldap.PasswordModifyResult, error) {
	m.mu.Lock()
	fn := m.PasswordModifyFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[strings.ToLower(req.UserIdentity)]
	if !ok {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	e.attrs["userpassword"] = []string{req.NewPassword}
	return &ldap.PasswordModifyResult{}, nil
}

func (m *MockLDAPConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed++
	return nil
}
