// Package bulk validates and applies account changes one item at a time:
// spreadsheet imports with a create-and-attach-groups rollback rule, and the
// delete/disable/enable/reset-password family driven by pasted identifiers.
//
// All processing is sequential and in input order. A failing item is
// recorded and the batch continues; the only whole-batch abort is the
// secret-link pre-flight check that runs before an import creates anything.
package bulk

import (
	"context"
	"strings"
	"time"

	ipa "github.com/netresearch/ipa-admin-portal"
)

// ImportRow is one spreadsheet data row.
type ImportRow struct {
	Row      int
	FullName string
	Email    string
	Phone    string
	Title    string
	Groups   []string
}

// CreationIntent is an accepted row, ready to be created.
type CreationIntent struct {
	Username  string
	GivenName string
	Surname   string
	FullName  string
	Email     string
	Phone     string
	Title     string
	Groups    []string
}

// NewUser converts the intent into the directory's creation request.
func (i CreationIntent) NewUser() ipa.NewUser {
	return ipa.NewUser{
		UID:       i.Username,
		GivenName: i.GivenName,
		Surname:   i.Surname,
		FullName:  i.FullName,
		Mail:      i.Email,
		Title:     i.Title,
		Phone:     i.Phone,
	}
}

// Verdict is the outcome of validating one row. Every field is populated as
// far as validation got, so error paths never see stale data from another row.
type Verdict struct {
	Row      int
	FullName string
	Email    string
	// Username is empty when the row failed before a name could be derived.
	Username string
	// Reasons lists rejection reasons in check order; empty means accepted.
	Reasons []string
	// Warnings are non-blocking remarks about accepted rows.
	Warnings []string
	// Intent is set only for accepted rows.
	Intent *CreationIntent
}

// Accepted reports whether the row passed every check.
func (v Verdict) Accepted() bool {
	return len(v.Reasons) == 0
}

// Reason joins the rejection reasons in their stable order.
func (v Verdict) Reason() string {
	return strings.Join(v.Reasons, "; ")
}

// GroupFailure is one group that could not be attached.
type GroupFailure struct {
	Group string `json:"group"`
	Error string `json:"error"`
}

// GroupOutcome partitions requested groups into attached and failed.
type GroupOutcome struct {
	Attached []string       `json:"added"`
	Failed   []GroupFailure `json:"failed"`
}

// CreationResult reports one creation attempt.
type CreationResult struct {
	Row int `json:"row,omitempty"`
	// Identifier is the full name as supplied.
	Identifier      string        `json:"identifier"`
	Username        string        `json:"username,omitempty"`
	Email           string        `json:"email,omitempty"`
	Password        string        `json:"password,omitempty"`
	SecretLink      string        `json:"secret_link,omitempty"`
	SecretLinkError string        `json:"secret_link_error,omitempty"`
	Groups          *GroupOutcome `json:"groups,omitempty"`
	Error           string        `json:"error,omitempty"`
	// RolledBack is set when the account was created and then deleted again.
	RolledBack bool `json:"rolled_back,omitempty"`
}

// Succeeded reports whether the account exists after the attempt.
func (r CreationResult) Succeeded() bool {
	return r.Error == ""
}

// ImportReport is the outcome of a spreadsheet import.
type ImportReport struct {
	Success []CreationResult `json:"success"`
	Failed  []CreationResult `json:"failed"`
	// Error is set when the whole import was aborted before any row ran.
	Error string `json:"error,omitempty"`
}

// Conflict is a rejected row in a dry-run report.
type Conflict struct {
	Row      int    `json:"row"`
	FullName string `json:"full_name,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Error    string `json:"error"`
}

// Warning is a non-blocking remark in a dry-run report.
type Warning struct {
	Row      int    `json:"row"`
	FullName string `json:"full_name"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// ValidationReport is the outcome of a dry run.
type ValidationReport struct {
	Valid          bool       `json:"valid"`
	TotalRows      int        `json:"total_rows"`
	WouldCreate    int        `json:"would_create"`
	ConflictsCount int        `json:"conflicts_count"`
	WarningsCount  int        `json:"warnings_count"`
	Conflicts      []Conflict `json:"conflicts"`
	Warnings       []Warning  `json:"warnings"`
}

// Operation names a member of the single-item operation family.
type Operation string

const (
	OpDelete        Operation = "delete"
	OpDisable       Operation = "disable"
	OpEnable        Operation = "enable"
	OpResetPassword Operation = "reset-password"
)

// ParseOperation maps a URL segment to an Operation.
func ParseOperation(s string) (Operation, bool) {
	switch op := Operation(s); op {
	case OpDelete, OpDisable, OpEnable, OpResetPassword:
		return op, true
	}
	return "", false
}

// OperationSuccess is one identifier the operation was applied to.
type OperationSuccess struct {
	Identifier         string     `json:"identifier"`
	Username           string     `json:"username"`
	Password           string     `json:"password,omitempty"`
	SecretLink         string     `json:"secret_link,omitempty"`
	SecretLinkError    string     `json:"secret_link_error,omitempty"`
	PasswordExpiration *time.Time `json:"password_expiration,omitempty"`
}

// OperationFailure is one identifier the operation failed for.
type OperationFailure struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username,omitempty"`
	Error      string `json:"error"`
}

// OperationReport is the outcome of applying an operation to many identifiers.
type OperationReport struct {
	Operation Operation          `json:"operation"`
	Success   []OperationSuccess `json:"success"`
	Failed    []OperationFailure `json:"failed"`
}

// LinkGenerator wraps a generated password into a one-time secret link.
type LinkGenerator interface {
	CreateLink(ctx context.Context, username, password string) (string, error)
	// Check verifies the link service is reachable.
	Check(ctx context.Context) error
}

// Observer receives one event per processed item.
type Observer interface {
	ObserveBulkItem(operation, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveBulkItem(string, string) {}
