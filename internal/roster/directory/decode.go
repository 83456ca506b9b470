package directory

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/go-ldap/ldap/v3"
)

// Active Directory attribute names.
const (
	AttrAccountName    = "sAMAccountName"
	AttrMail           = "mail"
	AttrGivenName      = "givenName"
	AttrSurname        = "sn"
	AttrDisplayName    = "displayName"
	AttrEmployeeID     = "employeeID"
	AttrDepartment     = "department"
	AttrTitle          = "title"
	AttrManager        = "manager"
	AttrMemberOf       = "memberOf"
	AttrAccountControl = "userAccountControl"
)

// accountDisabled is the ACCOUNTDISABLE bit of userAccountControl.
const accountDisabled = 0x2

var managerCN = regexp.MustCompile(`(?i)CN=([^,]+)`)

// Decode projects a raw entry onto a DirectoryRecord. Missing attributes
// decode to empty values; validation is the caller's job.
func Decode(e *ldap.Entry) domain.DirectoryRecord {
	get := func(name string) string {
		return strings.TrimSpace(e.GetEqualFoldAttributeValue(name))
	}

	return domain.DirectoryRecord{
		ExternalID:     get(AttrAccountName),
		DN:             e.DN,
		Email:          strings.ToLower(get(AttrMail)),
		GivenName:      get(AttrGivenName),
		FamilyName:     get(AttrSurname),
		DisplayName:    get(AttrDisplayName),
		EmployeeNumber: get(AttrEmployeeID),
		Department:     get(AttrDepartment),
		Position:       get(AttrTitle),
		Groups:         e.GetEqualFoldAttributeValues(AttrMemberOf),
		ManagerRef:     get(AttrManager),
		Enabled:        accountEnabled(get(AttrAccountControl)),
	}
}

// accountEnabled reads the ACCOUNTDISABLE bit. Absent or unparsable values
// count as enabled.
func accountEnabled(raw string) bool {
	if raw == "" {
		return true
	}
	uac, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true
	}
	return uac&accountDisabled == 0
}

// ManagerKey extracts the CN embedded in a manager DN, or "" when there is
// none.
func ManagerKey(ref string) string {
	m := managerCN.FindStringSubmatch(ref)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
