package domain

// DirectoryRecord is one entry pulled from the directory during a single
// sync run. It is never persisted.
type DirectoryRecord struct {
	ExternalID     string // sAMAccountName
	DN             string
	Email          string
	GivenName      string
	FamilyName     string
	DisplayName    string
	EmployeeNumber string
	Department     string
	Position       string
	Groups         []string // raw memberOf DNs
	ManagerRef     string   // raw manager DN
	Enabled        bool
}

// Label is how the record is named in sync error messages.
func (r DirectoryRecord) Label() string {
	switch {
	case r.DisplayName != "":
		return r.DisplayName
	case r.ExternalID != "":
		return r.ExternalID
	case r.DN != "":
		return r.DN
	}
	return "<unnamed>"
}

// SyncResult summarises one reconciliation run. Counts only include writes
// that were committed.
type SyncResult struct {
	Created     int      `json:"created"`
	Updated     int      `json:"updated"`
	Deactivated int      `json:"deactivated"`
	Errors      []string `json:"errors"`
}

// DirectoryStatus reports how many identities the directory owns.
type DirectoryStatus struct {
	Configured  bool  `json:"configured"`
	Total       int   `json:"total"`
	Active      int   `json:"active"`
	LastRunUnix int64 `json:"last_run_unix,omitempty"`
}
