// Package report renders account listings for download.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	ipa "github.com/netresearch/ipa-admin-portal"
)

// UsersGroupsFilename is the download name of the CSV report.
const UsersGroupsFilename = "users_groups_report.csv"

// WriteUsersGroupsCSV writes one "username,email,groups" line per account.
// Only the first address is listed; groups are joined with ";".
func WriteUsersGroupsCSV(w io.Writer, users []ipa.User) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"username", "email", "groups"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, u := range users {
		if err := cw.Write([]string{u.UID, u.PrimaryMail(), strings.Join(u.Groups, ";")}); err != nil {
			return fmt.Errorf("write csv row for %s: %w", u.UID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FullInfo is the JSON dump of every account.
type FullInfo struct {
	Count int        `json:"count"`
	Users []ipa.User `json:"users"`
}

// NewFullInfo wraps users; a nil slice is rendered as [].
func NewFullInfo(users []ipa.User) FullInfo {
	if users == nil {
		users = []ipa.User{}
	}
	return FullInfo{Count: len(users), Users: users}
}
