// Package directory pulls employee records from an LDAP / Active Directory
// server and checks directory credentials.
package directory

//go:generate mockgen -source=directory.go -destination=mock/mock_directory.go -package=mock_directory

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/go-ldap/ldap/v3"
)

var (
	ErrConnection  = errors.New("directory: connection failed")
	ErrSearch      = errors.New("directory: search failed")
	ErrAuthFailure = errors.New("directory: authentication failed")
)

// DefaultFilter selects enabled person accounts.
const DefaultFilter = "(&(objectClass=user)(objectCategory=person)(!(userAccountControl:1.2.840.113556.1.4.803:=2)))"

// DefaultAttributes are requested on every search.
var DefaultAttributes = []string{
	AttrAccountName,
	AttrMail,
	AttrGivenName,
	AttrSurname,
	AttrDisplayName,
	AttrEmployeeID,
	AttrDepartment,
	AttrTitle,
	AttrManager,
	AttrMemberOf,
	AttrAccountControl,
}

// Directory is one stateful session against the directory. A session is
// not safe for concurrent use; Authenticate opens its own connection.
type Directory interface {
	// Connect dials and binds with the service account. The connection is
	// torn down when ctx is done.
	Connect(ctx context.Context) error

	// SearchAll returns every entry under base that matches filter.
	SearchAll(ctx context.Context, base, filter string, attributes []string) ([]domain.DirectoryRecord, error)

	// Authenticate binds as principal and returns its record, or
	// ErrAuthFailure when the directory rejects the credentials.
	Authenticate(ctx context.Context, principal, secret string) (domain.DirectoryRecord, error)

	Disconnect()
}

// LDAPClient is the subset of an LDAP connection the directory needs.
type LDAPClient interface {
	Connect(url string, startTLS bool, skipTLSVerify bool) error
	Bind(username, password string) error
	SearchPaged(baseDN, filter string, attributes []string, pageSize uint32) ([]*ldap.Entry, error)
	Close()
}
