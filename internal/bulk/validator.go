package bulk

import (
	"context"
	"fmt"
	"strings"

	ipa "github.com/netresearch/ipa-admin-portal"
	"github.com/netresearch/ipa-admin-portal/internal/translit"
)

// Rejection and warning messages.
const (
	msgFullNameEmpty   = "full name is empty"
	msgEmailEmpty      = "email is empty"
	msgNameTooShort    = "full name must contain at least a surname and a given name"
	msgPhoneEmpty      = "phone is empty"
	msgTitleEmpty      = "title is empty"
	fmtEmailInvalid    = "invalid email: %s"
	fmtEmailDuplicate  = "duplicate email %s (already in row %d)"
	fmtUsernameExists  = "username '%s' already exists in the directory"
	fmtEmailExists     = "email '%s' already exists in the directory"
	fmtGroupsMissing   = "groups do not exist: %s"
	fmtGroupLookupFail = "could not verify group %s: %v"
)

// Validator checks spreadsheet rows against a snapshot of the directory. One
// Validator serves one bulk operation: it remembers which row first used each
// e-mail address so later rows of the same file can be rejected as duplicates.
type Validator struct {
	snapshot *Snapshot
	groups   *GroupCache
	// seenEmails maps a case-folded address to the first row that used it.
	seenEmails map[string]int
}

// NewValidator creates a Validator for one bulk operation.
func NewValidator(snapshot *Snapshot, groups *GroupCache) *Validator {
	return &Validator{
		snapshot:   snapshot,
		groups:     groups,
		seenEmails: make(map[string]int),
	}
}

// Validate runs the checks in fixed order. The first five stop at the first
// failure since later checks need their result; the directory checks run
// together and their reasons accumulate. Validating the same row again
// yields the same verdict.
func (v *Validator) Validate(ctx context.Context, row ImportRow) Verdict {
	verdict := Verdict{
		Row:      row.Row,
		FullName: strings.TrimSpace(row.FullName),
		Email:    strings.TrimSpace(row.Email),
	}

	if verdict.FullName == "" {
		return verdict.reject(msgFullNameEmpty)
	}
	if verdict.Email == "" {
		return verdict.reject(msgEmailEmpty)
	}
	if !ipa.ValidateEmailFormat(verdict.Email) {
		return verdict.reject(fmt.Sprintf(fmtEmailInvalid, verdict.Email))
	}

	key := foldEmail(verdict.Email)
	if first, ok := v.seenEmails[key]; ok && first != row.Row {
		return verdict.reject(fmt.Sprintf(fmtEmailDuplicate, verdict.Email, first))
	}
	if _, ok := v.seenEmails[key]; !ok {
		v.seenEmails[key] = row.Row
	}

	surname, givenName, ok := SplitFullName(verdict.FullName)
	if !ok {
		return verdict.reject(msgNameTooShort)
	}
	verdict.Username = translit.Username(givenName, surname)

	if v.snapshot.HasUsername(verdict.Username) {
		verdict.Reasons = append(verdict.Reasons, fmt.Sprintf(fmtUsernameExists, verdict.Username))
	}
	if v.snapshot.HasEmail(verdict.Email) {
		verdict.Reasons = append(verdict.Reasons, fmt.Sprintf(fmtEmailExists, verdict.Email))
	}

	var missing []string
	for _, group := range row.Groups {
		exists, err := v.groups.Exists(ctx, group)
		if err != nil {
			verdict.Reasons = append(verdict.Reasons, fmt.Sprintf(fmtGroupLookupFail, group, err))
			continue
		}
		if !exists {
			missing = append(missing, group)
		}
	}
	if len(missing) > 0 {
		verdict.Reasons = append(verdict.Reasons, fmt.Sprintf(fmtGroupsMissing, strings.Join(missing, ", ")))
	}

	if !verdict.Accepted() {
		return verdict
	}

	phone, title := strings.TrimSpace(row.Phone), strings.TrimSpace(row.Title)
	if phone == "" {
		verdict.Warnings = append(verdict.Warnings, msgPhoneEmpty)
	}
	if title == "" {
		verdict.Warnings = append(verdict.Warnings, msgTitleEmpty)
	}

	verdict.Intent = &CreationIntent{
		Username:  verdict.Username,
		GivenName: givenName,
		Surname:   surname,
		FullName:  verdict.FullName,
		Email:     verdict.Email,
		Phone:     phone,
		Title:     title,
		Groups:    row.Groups,
	}
	return verdict
}

func (v Verdict) reject(reason string) Verdict {
	v.Reasons = append(v.Reasons, reason)
	return v
}

// SplitFullName splits "Surname GivenName [Patronymic...]" on whitespace.
// It reports false when fewer than two tokens are present.
func SplitFullName(fullName string) (surname, givenName string, ok bool) {
	parts := strings.Fields(fullName)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
