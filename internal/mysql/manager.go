package mysql

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/credentials"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/models"
	gomysql "github.com/go-sql-driver/mysql"
	"golang.org/x/crypto/ssh"
)

const (
	DefaultPreviewLimit = 200
	MaxPreviewLimit     = 1000
	DefaultQueryLimit   = 500

	tunnelNetPrefix = "goterm-tunnel-"
)

type ProfileSource interface {
	Get(ctx context.Context, id string) (models.MySQLProfile, error)
}

type SecretResolver interface {
	Resolve(ctx context.Context, profileID string, kind credentials.Kind) (string, error)
}

// Tunnels hands out SSH transports for tunnelled profiles.
type Tunnels interface {
	Acquire(ctx context.Context, profileID string) (string, *ssh.Client, error)
	Client(sessionID string) (*ssh.Client, error)
}

// Opener turns a driver config into a pool. Tests swap it for sqlmock.
type Opener func(cfg *gomysql.Config) (*sql.DB, error)

func OpenConnector(cfg *gomysql.Config) (*sql.DB, error) {
	c, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(c), nil
}

type Options struct {
	PingTimeout  time.Duration
	PreviewLimit int
	QueryLimit   int
	Opener       Opener
}

type connection struct {
	profile   models.MySQLProfile
	db        *sql.DB
	state     State
	lastError string
	sessionID string
}

// Manager keeps at most one pool per profile id.
type Manager struct {
	profiles ProfileSource
	secrets  SecretResolver
	tunnels  Tunnels
	opts     Options
	logger   logging.Logger

	mu      sync.Mutex
	conns   map[string]*connection
	dialers map[string]struct{}
}

func NewManager(profiles ProfileSource, secrets SecretResolver, tunnels Tunnels, opts Options, l logging.Logger) *Manager {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 6 * time.Second
	}
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = DefaultPreviewLimit
	}
	if opts.QueryLimit <= 0 {
		opts.QueryLimit = DefaultQueryLimit
	}
	if opts.Opener == nil {
		opts.Opener = OpenConnector
	}
	return &Manager{
		profiles: profiles,
		secrets:  secrets,
		tunnels:  tunnels,
		opts:     opts,
		logger:   l.With("module", "mysql"),
		conns:    make(map[string]*connection),
		dialers:  make(map[string]struct{}),
	}
}

// Connect opens the profile's pool. Connecting an already Connected profile
// is a no-op.
func (m *Manager) Connect(ctx context.Context, profileID string) (Status, error) {
	p, err := m.profiles.Get(ctx, profileID)
	if err != nil {
		return Status{}, err
	}

	var stale *sql.DB
	m.mu.Lock()
	if c, ok := m.conns[p.ID]; ok {
		switch c.state {
		case StateConnected:
			m.mu.Unlock()
			return m.Status(p.ID), nil
		case StateConnecting:
			m.mu.Unlock()
			return Status{}, fmt.Errorf("%w: mysql profile %s is already connecting", common.ErrInvalidState, p.ID)
		}
		stale = c.db
	}
	c := &connection{profile: p, state: StateConnecting}
	m.conns[p.ID] = c
	m.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}

	db, err := m.open(ctx, c)
	if err != nil {
		m.mu.Lock()
		c.state = StateError
		c.lastError = err.Error()
		m.mu.Unlock()
		m.logger.Warn(ctx, "mysql connect failed", "profile_id", p.ID, "error", err)
		return m.Status(p.ID), err
	}

	m.mu.Lock()
	if m.conns[p.ID] != c {
		m.mu.Unlock()
		_ = db.Close()
		return Status{}, fmt.Errorf("%w: mysql profile %s disconnected while connecting", common.ErrInvalidState, p.ID)
	}
	c.db = db
	c.state = StateConnected
	c.lastError = ""
	m.mu.Unlock()

	m.logger.Info(ctx, "mysql connected", "profile_id", p.ID, "addr", p.Address(), "via", p.ConnectionType)
	return m.Status(p.ID), nil
}

func (m *Manager) open(ctx context.Context, c *connection) (*sql.DB, error) {
	p := c.profile

	password, err := m.secrets.Resolve(ctx, p.ID, credentials.KindPassword)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: no password stored for mysql profile %s", common.ErrAuthFailed, p.ID)
		}
		return nil, err
	}

	cfg := gomysql.NewConfig()
	cfg.User = p.Username
	cfg.Passwd = password
	cfg.DBName = p.Database
	cfg.ParseTime = true
	cfg.Net = "tcp"
	cfg.Addr = p.Address()
	cfg.Timeout = m.opts.PingTimeout

	if p.ConnectionType == models.ConnectionSSHTunnel {
		if m.tunnels == nil {
			return nil, fmt.Errorf("%w: ssh tunnels are unavailable", common.ErrInvalidState)
		}
		sessionID, _, err := m.tunnels.Acquire(ctx, p.SSHProfileID)
		if err != nil {
			return nil, fmt.Errorf("ssh tunnel via profile %s: %w", p.SSHProfileID, err)
		}
		m.mu.Lock()
		c.sessionID = sessionID
		m.mu.Unlock()
		cfg.Net = m.registerDialer(p.ID)
	}

	if err := applyTLS(cfg, p); err != nil {
		return nil, err
	}

	db, err := m.opts.Opener(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", common.ErrValidation, err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	pctx, cancel := context.WithTimeout(ctx, m.opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}
	return db, nil
}

// registerDialer installs the tunnel dial function for a profile once. The
// function looks up the current session on every dial, so a reconnect
// picks up the new transport.
func (m *Manager) registerDialer(profileID string) string {
	name := tunnelNetPrefix + profileID

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dialers[name]; ok {
		return name
	}
	gomysql.RegisterDialContext(name, func(ctx context.Context, addr string) (net.Conn, error) {
		return m.dialTunnel(ctx, profileID, addr)
	})
	m.dialers[name] = struct{}{}
	return name
}

func (m *Manager) dialTunnel(ctx context.Context, profileID, addr string) (net.Conn, error) {
	m.mu.Lock()
	c, ok := m.conns[profileID]
	var sessionID string
	if ok {
		sessionID = c.sessionID
	}
	m.mu.Unlock()
	if sessionID == "" {
		return nil, fmt.Errorf("%w: no ssh session for mysql profile %s", common.ErrInvalidState, profileID)
	}

	client, err := m.tunnels.Client(sessionID)
	if err != nil {
		return nil, err
	}
	return client.DialContext(ctx, "tcp", addr)
}

func applyTLS(cfg *gomysql.Config, p models.MySQLProfile) error {
	opts := p.TLS
	switch opts.Mode {
	case "", models.TLSDisabled:
		return nil
	case models.TLSPreferred:
		if opts.CAFile == "" && opts.CertFile == "" {
			cfg.TLSConfig = "preferred"
			return nil
		}
	}

	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         p.Host,
		InsecureSkipVerify: opts.Mode == models.TLSSkipVerify,
	}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return fmt.Errorf("%w: read tls ca: %w", common.ErrValidation, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("%w: no certificates in %s", common.ErrValidation, opts.CAFile)
		}
		tc.RootCAs = pool
	}
	if opts.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return fmt.Errorf("%w: load tls client cert: %w", common.ErrValidation, err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	cfg.TLS = tc
	return nil
}

// Disconnect closes the pool. Unknown profiles are already disconnected.
func (m *Manager) Disconnect(ctx context.Context, profileID string) error {
	m.mu.Lock()
	c, ok := m.conns[profileID]
	delete(m.conns, profileID)
	m.mu.Unlock()

	if !ok || c.db == nil {
		return nil
	}
	m.logger.Info(ctx, "mysql disconnected", "profile_id", profileID)
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", common.ErrTransport, err)
	}
	return nil
}

func (m *Manager) Status(profileID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[profileID]
	if !ok {
		return Status{ProfileID: profileID, State: StateDisconnected}
	}
	return Status{ProfileID: profileID, State: c.state, LastError: c.lastError}
}

func (m *Manager) List() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.conns))
	for id, c := range m.conns {
		out = append(out, Status{ProfileID: id, State: c.state, LastError: c.lastError})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProfileID < out[j].ProfileID })
	return out
}

// SessionClosed fails every connection tunnelled through the session.
// Registered as a session close listener.
func (m *Manager) SessionClosed(sessionID, reason string) {
	var pools []*sql.DB

	m.mu.Lock()
	for id, c := range m.conns {
		if c.sessionID != sessionID || c.state == StateError {
			continue
		}
		c.state = StateError
		c.lastError = "ssh tunnel closed"
		if c.db != nil {
			pools = append(pools, c.db)
			c.db = nil
		}
		m.logger.Warn(context.Background(), "mysql tunnel lost", "profile_id", id, "session_id", sessionID, "reason", reason)
	}
	m.mu.Unlock()

	for _, db := range pools {
		_ = db.Close()
	}
}

// connFailed moves a Connected profile to Error after a connection-level
// failure.
func (m *Manager) connFailed(profileID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[profileID]; ok && c.state == StateConnected {
		c.state = StateError
		c.lastError = err.Error()
	}
}

func (m *Manager) pool(profileID string) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[profileID]
	if !ok || c.state != StateConnected || c.db == nil {
		return nil, fmt.Errorf("%w: mysql profile %s is not connected", common.ErrInvalidState, profileID)
	}
	return c.db, nil
}

func (m *Manager) withConn(ctx context.Context, profileID, database string, fn func(*sql.Conn) error) error {
	db, err := m.pool(profileID)
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return m.fail(profileID, err)
	}
	defer conn.Close()

	if database != "" {
		if _, err := conn.ExecContext(ctx, "USE "+quoteIdent(database)); err != nil {
			return m.fail(profileID, err)
		}
	}
	if err := fn(conn); err != nil {
		return m.fail(profileID, err)
	}
	return nil
}

func (m *Manager) fail(profileID string, err error) error {
	if isConnError(err) {
		m.connFailed(profileID, err)
	}
	return classify(err)
}

func (m *Manager) ListDatabases(ctx context.Context, profileID string) ([]string, error) {
	var out []string
	err := m.withConn(ctx, profileID, "", func(conn *sql.Conn) error {
		var err error
		out, err = queryStrings(ctx, conn, "SHOW DATABASES")
		return err
	})
	return out, err
}

func (m *Manager) ListTables(ctx context.Context, profileID, database string) ([]string, error) {
	if database == "" {
		return nil, fmt.Errorf("%w: database is required", common.ErrValidation)
	}
	var out []string
	err := m.withConn(ctx, profileID, "", func(conn *sql.Conn) error {
		var err error
		out, err = queryStrings(ctx, conn, "SHOW TABLES FROM "+quoteIdent(database))
		return err
	})
	return out, err
}

func (m *Manager) TableSchema(ctx context.Context, profileID, database, table string) ([]Column, error) {
	if database == "" || table == "" {
		return nil, fmt.Errorf("%w: database and table are required", common.ErrValidation)
	}
	query := fmt.Sprintf("SHOW COLUMNS FROM %s.%s", quoteIdent(database), quoteIdent(table))

	out := make([]Column, 0)
	err := m.withConn(ctx, profileID, "", func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var col Column
			var def sql.NullString
			if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Key, &def, &col.Extra); err != nil {
				return err
			}
			col.Default = def.String
			out = append(out, col)
		}
		return rows.Err()
	})
	return out, err
}

// PreviewTable pages through a table. The filter is a WHERE expression
// supplied by the user; statement separators and comments are refused.
// One extra row is fetched to report truncation.
func (m *Manager) PreviewTable(ctx context.Context, profileID, database, table, filter, orderBy, orderDir string, limit, offset int) (PreviewResult, error) {
	if database == "" || table == "" {
		return PreviewResult{}, fmt.Errorf("%w: database and table are required", common.ErrValidation)
	}
	if limit <= 0 {
		limit = m.opts.PreviewLimit
	}
	limit = min(limit, MaxPreviewLimit)
	offset = max(offset, 0)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s.%s", quoteIdent(database), quoteIdent(table))

	if filter = strings.TrimSpace(filter); filter != "" {
		if strings.ContainsAny(filter, ";#") || strings.Contains(filter, "--") || strings.Contains(filter, "/*") {
			return PreviewResult{}, fmt.Errorf("%w: filter must be a single expression without comments", common.ErrValidation)
		}
		fmt.Fprintf(&b, " WHERE (%s)", filter)
	}

	if orderBy != "" {
		dir := strings.ToUpper(strings.TrimSpace(orderDir))
		switch dir {
		case "":
			dir = "ASC"
		case "ASC", "DESC":
		default:
			return PreviewResult{}, fmt.Errorf("%w: order direction %q", common.ErrValidation, orderDir)
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", quoteIdent(orderBy), dir)
	}
	b.WriteString(" LIMIT ? OFFSET ?")

	var res PreviewResult
	err := m.withConn(ctx, profileID, database, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, b.String(), limit+1, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		res.Columns, res.Rows, res.Truncated, err = collect(rows, limit)
		return err
	})
	return res, err
}

// Query runs arbitrary SQL. Row-returning statements yield *RowsResult
// capped at the query limit, everything else *ExecResult.
func (m *Manager) Query(ctx context.Context, profileID, database, query string) (QueryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", common.ErrValidation)
	}

	var result QueryResult
	start := time.Now()
	err := m.withConn(ctx, profileID, database, func(conn *sql.Conn) error {
		if isReadQuery(query) {
			rows, err := conn.QueryContext(ctx, query)
			if err != nil {
				return err
			}
			defer rows.Close()
			r := &RowsResult{}
			r.Columns, r.Rows, r.Truncated, err = collect(rows, m.opts.QueryLimit)
			if err != nil {
				return err
			}
			r.DurationMs = time.Since(start).Milliseconds()
			result = r
			return nil
		}

		res, err := conn.ExecContext(ctx, query)
		if err != nil {
			return err
		}
		r := &ExecResult{}
		r.AffectedRows, _ = res.RowsAffected()
		r.LastInsertID, _ = res.LastInsertId()
		r.DurationMs = time.Since(start).Milliseconds()
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) CreateDatabase(ctx context.Context, profileID, name string) error {
	if name == "" {
		return fmt.Errorf("%w: database name is required", common.ErrValidation)
	}
	return m.exec(ctx, profileID, "CREATE DATABASE "+quoteIdent(name))
}

func (m *Manager) DropDatabase(ctx context.Context, profileID, name string) error {
	if name == "" {
		return fmt.Errorf("%w: database name is required", common.ErrValidation)
	}
	return m.exec(ctx, profileID, "DROP DATABASE "+quoteIdent(name))
}

func (m *Manager) DropTable(ctx context.Context, profileID, database, table string) error {
	if database == "" || table == "" {
		return fmt.Errorf("%w: database and table are required", common.ErrValidation)
	}
	return m.exec(ctx, profileID, fmt.Sprintf("DROP TABLE %s.%s", quoteIdent(database), quoteIdent(table)))
}

func (m *Manager) exec(ctx context.Context, profileID, stmt string) error {
	return m.withConn(ctx, profileID, "", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, stmt)
		return err
	})
}

// Close shuts every pool.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*connection)
	m.mu.Unlock()

	for _, c := range conns {
		if c.db != nil {
			_ = c.db.Close()
		}
	}
}

func queryStrings(ctx context.Context, conn *sql.Conn, query string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// collect reads at most limit rows and reports whether more were available.
func collect(rows *sql.Rows, limit int) ([]string, [][]string, bool, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, false, err
	}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	out := make([][]string, 0)
	truncated := false
	for rows.Next() {
		if len(out) == limit {
			truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, false, err
		}
		row := make([]string, len(columns))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, err
	}
	return columns, out, truncated, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

func isReadQuery(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(strings.TrimLeft(fields[0], "(")) {
	case "select", "show", "describe", "desc", "explain", "with", "values", "table":
		return true
	}
	return false
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func isConnError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, gomysql.ErrInvalidConn) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// classify maps driver errors onto the common kinds.
func classify(err error) error {
	var me *gomysql.MySQLError
	switch {
	case errors.As(err, &me):
		switch me.Number {
		case 1045, 1044, 1142:
			return fmt.Errorf("%w: %w", common.ErrAuthFailed, err)
		case 1049, 1146:
			return fmt.Errorf("%w: %w", common.ErrNotFound, err)
		}
		return fmt.Errorf("%w: %w", common.ErrValidation, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", common.ErrTimeout, err)
	case common.KindOf(err) != nil:
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrTransport, err)
}
