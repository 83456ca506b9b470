package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/go-ldap/ldap/v3"
)

type Config struct {
	URL           string
	BaseDN        string
	Domain        string // appended to bare account names as user@domain
	BindUser      string
	BindPassword  string
	StartTLS      bool
	SkipTLSVerify bool
	PageSize      uint32
}

// Configured reports whether enough is set to reach a server.
func (c Config) Configured() bool {
	return c.URL != "" && c.BaseDN != ""
}

// principal turns an account name into something the server will bind.
// DNs and UPNs pass through.
func (c Config) principal(name string) string {
	if name == "" || c.Domain == "" || strings.ContainsAny(name, "=@\\") {
		return name
	}
	return name + "@" + c.Domain
}

// LDAP is a Directory backed by an LDAP server.
type LDAP struct {
	cfg       Config
	newClient func() LDAPClient

	mu     sync.Mutex
	client LDAPClient
	stop   func() bool
}

// NewLDAP returns a Directory for cfg. newClient may be nil to use real
// network connections.
func NewLDAP(cfg Config, newClient func() LDAPClient) *LDAP {
	if newClient == nil {
		newClient = NewRealLDAPClient
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 500
	}
	return &LDAP{cfg: cfg, newClient: newClient}
}

func (d *LDAP) Connect(ctx context.Context) error {
	if !d.cfg.Configured() {
		return fmt.Errorf("%w: directory url and base dn are required", ErrConnection)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	client := d.newClient()
	if err := client.Connect(d.cfg.URL, d.cfg.StartTLS, d.cfg.SkipTLSVerify); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if d.cfg.BindUser != "" {
		if err := client.Bind(d.cfg.principal(d.cfg.BindUser), d.cfg.BindPassword); err != nil {
			client.Close()
			return fmt.Errorf("%w: service bind: %w", ErrConnection, err)
		}
	}

	d.mu.Lock()
	d.client = client
	d.stop = context.AfterFunc(ctx, client.Close)
	d.mu.Unlock()
	return nil
}

func (d *LDAP) SearchAll(ctx context.Context, base, filter string, attributes []string) ([]domain.DirectoryRecord, error) {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("%w: not connected", ErrSearch)
	}

	entries, err := client.SearchPaged(base, filter, attributes, d.cfg.PageSize)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrSearch, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrSearch, err)
	}

	out := make([]domain.DirectoryRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, Decode(e))
	}
	return out, nil
}

func (d *LDAP) Disconnect() {
	d.mu.Lock()
	client, stop := d.client, d.stop
	d.client, d.stop = nil, nil
	d.mu.Unlock()

	// stop reports false once the context has already closed the client.
	closed := stop != nil && !stop()
	if client != nil && !closed {
		client.Close()
	}
}

func (d *LDAP) Authenticate(ctx context.Context, principal, secret string) (domain.DirectoryRecord, error) {
	// Unauthenticated binds succeed on most servers; never treat them as a
	// credential check.
	if principal == "" || secret == "" {
		return domain.DirectoryRecord{}, ErrAuthFailure
	}
	if !d.cfg.Configured() {
		return domain.DirectoryRecord{}, fmt.Errorf("%w: directory url and base dn are required", ErrConnection)
	}

	client := d.newClient()
	if err := client.Connect(d.cfg.URL, d.cfg.StartTLS, d.cfg.SkipTLSVerify); err != nil {
		return domain.DirectoryRecord{}, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, client.Close)
	defer stop()

	if err := client.Bind(d.cfg.principal(principal), secret); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return domain.DirectoryRecord{}, ErrAuthFailure
		}
		return domain.DirectoryRecord{}, fmt.Errorf("%w: bind: %w", ErrConnection, err)
	}

	account, _, _ := strings.Cut(principal, "@")
	filter := fmt.Sprintf("(%s=%s)", AttrAccountName, ldap.EscapeFilter(account))
	entries, err := client.SearchPaged(d.cfg.BaseDN, filter, DefaultAttributes, d.cfg.PageSize)
	if err != nil {
		return domain.DirectoryRecord{}, fmt.Errorf("%w: %w", ErrSearch, err)
	}
	if len(entries) != 1 {
		return domain.DirectoryRecord{}, ErrAuthFailure
	}
	return Decode(entries[0]), nil
}

// RealLDAPClient wraps a go-ldap connection. Close may be called from
// another goroutine to abort a search in flight.
type RealLDAPClient struct {
	mu   sync.Mutex
	conn *ldap.Conn
}

func NewRealLDAPClient() LDAPClient {
	return &RealLDAPClient{}
}

func (r *RealLDAPClient) Connect(url string, startTLS bool, skipTLSVerify bool) error {
	tlsCfg := &tls.Config{InsecureSkipVerify: skipTLSVerify} // #nosec G402 - opt-in via config

	conn, err := ldap.DialURL(url,
		ldap.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}),
		ldap.DialWithTLSConfig(tlsCfg),
	)
	if err != nil {
		return fmt.Errorf("ldap dial %s: %w", url, err)
	}
	conn.SetTimeout(30 * time.Second)

	if startTLS {
		if err := conn.StartTLS(tlsCfg); err != nil {
			_ = conn.Close()
			return fmt.Errorf("ldap starttls %s: %w", url, err)
		}
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return nil
}

func (r *RealLDAPClient) current() (*ldap.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil, errors.New("ldap connection not established")
	}
	return r.conn, nil
}

func (r *RealLDAPClient) Bind(username, password string) error {
	conn, err := r.current()
	if err != nil {
		return err
	}
	return conn.Bind(username, password)
}

func (r *RealLDAPClient) SearchPaged(baseDN, filter string, attributes []string, pageSize uint32) ([]*ldap.Entry, error) {
	conn, err := r.current()
	if err != nil {
		return nil, err
	}

	req := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		filter,
		attributes,
		nil,
	)
	res, err := conn.SearchWithPaging(req, pageSize)
	if err != nil {
		return nil, fmt.Errorf("ldap search (filter: %s): %w", filter, err)
	}
	return res.Entries, nil
}

func (r *RealLDAPClient) Close() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

var (
	_ LDAPClient = (*RealLDAPClient)(nil)
	_ Directory  = (*LDAP)(nil)
)
