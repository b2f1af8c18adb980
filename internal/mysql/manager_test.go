package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/credentials"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/models"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type profileMap map[string]models.MySQLProfile

func (p profileMap) Get(_ context.Context, id string) (models.MySQLProfile, error) {
	mp, ok := p[id]
	if !ok {
		return models.MySQLProfile{}, fmt.Errorf("%w: mysql profile %s", common.ErrNotFound, id)
	}
	return mp, nil
}

type secretMap map[string]string

func (s secretMap) Resolve(_ context.Context, id string, kind credentials.Kind) (string, error) {
	v, ok := s[id+":"+string(kind)]
	if !ok {
		return "", fmt.Errorf("%w: secret", common.ErrNotFound)
	}
	return v, nil
}

type fakeTunnels struct {
	sessionID string
	err       error
	acquired  []string
}

func (f *fakeTunnels) Acquire(_ context.Context, profileID string) (string, *ssh.Client, error) {
	f.acquired = append(f.acquired, profileID)
	return f.sessionID, nil, f.err
}

func (f *fakeTunnels) Client(string) (*ssh.Client, error) {
	return nil, fmt.Errorf("%w: not used", common.ErrInvalidState)
}

type harness struct {
	m       *Manager
	mock    sqlmock.Sqlmock
	configs []*gomysql.Config
	tunnels *fakeTunnels
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, false)
}

// newHarnessWith matches queries exactly unless pings are monitored, in which
// case the default regexp matcher is kept.
func newHarnessWith(t *testing.T, pings bool) *harness {
	t.Helper()
	var (
		db   *sql.DB
		mock sqlmock.Sqlmock
		err  error
	)
	if pings {
		db, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
	} else {
		db, mock, err = sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	}
	require.NoError(t, err)

	h := &harness{mock: mock, tunnels: &fakeTunnels{sessionID: "sess-1"}}
	profiles := profileMap{
		"shop": {ID: "shop", Host: "db.local", Port: 3306, Username: "app", Database: "shop",
			ConnectionType: models.ConnectionDirect, TLS: models.TLSOptions{Mode: models.TLSDisabled}},
		"tunnel": {ID: "tunnel", Host: "10.0.0.7", Port: 3306, Username: "app",
			ConnectionType: models.ConnectionSSHTunnel, SSHProfileID: "bastion"},
		"nopass": {ID: "nopass", Host: "db.local", Port: 3306, Username: "app"},
	}
	secrets := secretMap{"shop:password": "s3cret", "tunnel:password": "pw"}

	h.m = NewManager(profiles, secrets, h.tunnels, Options{
		Opener: func(cfg *gomysql.Config) (*sql.DB, error) {
			h.configs = append(h.configs, cfg)
			return db, nil
		},
	}, logging.Nop())
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) connect(t *testing.T, id string) {
	t.Helper()
	st, err := h.m.Connect(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StateConnected, st.State)
}

func TestConnect_BuildsConfigAndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "shop")
	h.connect(t, "shop")

	require.Len(t, h.configs, 1)
	cfg := h.configs[0]
	assert.Equal(t, "app", cfg.User)
	assert.Equal(t, "s3cret", cfg.Passwd)
	assert.Equal(t, "shop", cfg.DBName)
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "db.local:3306", cfg.Addr)
	assert.True(t, cfg.ParseTime)
	assert.Nil(t, cfg.TLS)
}

func TestConnect_MissingPasswordIsAuthFailed(t *testing.T) {
	h := newHarness(t)

	_, err := h.m.Connect(context.Background(), "nopass")
	assert.ErrorIs(t, err, common.ErrAuthFailed)

	st := h.m.Status("nopass")
	assert.Equal(t, StateError, st.State)
	assert.NotEmpty(t, st.LastError)
	assert.Empty(t, h.configs)
}

func TestConnect_UnknownProfile(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.Connect(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, StateDisconnected, h.m.Status("ghost").State)
}

func TestConnect_AccessDeniedIsAuthFailed(t *testing.T) {
	h := newHarnessWith(t, true)
	h.mock.ExpectPing().WillReturnError(&gomysql.MySQLError{Number: 1045, Message: "Access denied"})
	h.mock.ExpectClose()

	_, err := h.m.Connect(context.Background(), "shop")
	assert.ErrorIs(t, err, common.ErrAuthFailed)
	assert.Equal(t, StateError, h.m.Status("shop").State)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestConnect_TunnelBindsToSession(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "tunnel")

	assert.Equal(t, []string{"bastion"}, h.tunnels.acquired)
	assert.Equal(t, tunnelNetPrefix+"tunnel", h.configs[0].Net)

	h.mock.ExpectClose()
	h.m.SessionClosed("other", "session closed")
	assert.Equal(t, StateConnected, h.m.Status("tunnel").State)

	h.m.SessionClosed("sess-1", "session closed")
	st := h.m.Status("tunnel")
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, "ssh tunnel closed", st.LastError)

	_, err := h.m.ListDatabases(context.Background(), "tunnel")
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestConnect_TunnelSessionFailure(t *testing.T) {
	h := newHarness(t)
	h.tunnels.err = fmt.Errorf("%w: denied", common.ErrAuthFailed)

	_, err := h.m.Connect(context.Background(), "tunnel")
	assert.ErrorIs(t, err, common.ErrAuthFailed)
	assert.Equal(t, StateError, h.m.Status("tunnel").State)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.m.Disconnect(ctx, "shop"))

	h.connect(t, "shop")
	h.mock.ExpectClose()
	require.NoError(t, h.m.Disconnect(ctx, "shop"))
	assert.Equal(t, StateDisconnected, h.m.Status("shop").State)
	assert.Empty(t, h.m.List())
}

func TestOperations_RequireConnection(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.ListDatabases(context.Background(), "shop")
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestListDatabasesAndTables(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "shop")
	ctx := context.Background()

	h.mock.ExpectQuery("SHOW DATABASES").
		WillReturnRows(sqlmock.NewRows([]string{"Database"}).AddRow("information_schema").AddRow("shop"))
	dbs, err := h.m.ListDatabases(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"information_schema", "shop"}, dbs)

	h.mock.ExpectQuery("SHOW TABLES FROM `shop`").
		WillReturnRows(sqlmock.NewRows([]string{"Tables_in_shop"}).AddRow("items"))
	tables, err := h.m.ListTables(ctx, "shop", "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"items"}, tables)

	_, err = h.m.ListTables(ctx, "shop", "")
	assert.ErrorIs(t, err, common.ErrValidation)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestTableSchema(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "shop")
	ctx := context.Background()

	h.mock.ExpectQuery("SHOW COLUMNS FROM `shop`.`items`").
		WillReturnRows(sqlmock.NewRows([]string{"Field", "Type", "Null", "Key", "Default", "Extra"}).
			AddRow("id", "int", "NO", "PRI", nil, "auto_increment").
			AddRow("name", "varchar(64)", "YES", "", "x", ""))
	cols, err := h.m.TableSchema(ctx, "shop", "shop", "items")
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{Name: "id", Type: "int", Nullable: "NO", Key: "PRI", Extra: "auto_increment"},
		{Name: "name", Type: "varchar(64)", Nullable: "YES", Default: "x"},
	}, cols)

	h.mock.ExpectQuery("SHOW COLUMNS FROM `shop`.`nope`").
		WillReturnError(&gomysql.MySQLError{Number: 1146, Message: "Table 'shop.nope' doesn't exist"})
	_, err = h.m.TableSchema(ctx, "shop", "shop", "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, StateConnected, h.m.Status("shop").State)
}

func itemRows(n int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name"})
	for i := range n {
		rows.AddRow(int64(i), fmt.Sprintf("item-%d", i))
	}
	return rows
}

func TestPreviewTable_Truncation(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "shop")
	ctx := context.Background()
	const query = "SELECT * FROM `shop`.`items` LIMIT ? OFFSET ?"

	h.mock.ExpectExec("USE `shop`").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectQuery(query).WithArgs(int64(51), int64(0)).WillReturnRows(itemRows(51))
	res, err := h.m.PreviewTable(ctx, "shop", "shop", "items", "", "", "", 50, 0)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 50)
	assert.True(t, res.Truncated)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	assert.Equal(t, []string{"0", "item-0"}, res.Rows[0])

	h.mock.ExpectExec("USE `shop`").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectQuery(query).WithArgs(int64(51), int64(0)).WillReturnRows(itemRows(10))
	res, err = h.m.PreviewTable(ctx, "shop", "shop", "items", "", "", "", 50, -5)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 10)
	assert.False(t, res.Truncated)

	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestPreviewTable_FilterAndOrder(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "shop")
	ctx := context.Background()

	h.mock.ExpectExec("USE `shop`").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectQuery("SELECT * FROM `shop`.`items` WHERE (price > 10) ORDER BY `id` DESC LIMIT ? OFFSET ?").
		WithArgs(int64(DefaultPreviewLimit+1), int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(nil))
	res, err := h.m.PreviewTable(ctx, "shop", "shop", "items", "price > 10", "id", "desc", 0, 20)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"NULL"}}, res.Rows)

	for _, filter := range []string{"1; DROP TABLE items", "1 -- x", "1 /* x */", "1 # x"} {
		_, err = h.m.PreviewTable(ctx, "shop", "shop", "items", filter, "", "", 10, 0)
		assert.ErrorIs(t, err, common.ErrValidation, filter)
	}
	_, err = h.m.PreviewTable(ctx, "shop", "shop", "items", "", "id", "sideways", 10, 0)
	assert.ErrorIs(t, err, common.ErrValidation)

	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestQuery_TaggedResults(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "shop")
	ctx := context.Background()

	h.mock.ExpectExec("USE `shop`").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectQuery("select id, name from items").WillReturnRows(itemRows(2))
	res, err := h.m.Query(ctx, "shop", "shop", "  select id, name from items ")
	require.NoError(t, err)
	rows, ok := res.(*RowsResult)
	require.True(t, ok)
	assert.Equal(t, KindRows, res.Kind())
	assert.Len(t, rows.Rows, 2)
	assert.False(t, rows.Truncated)

	h.mock.ExpectExec("UPDATE items SET name = 'x'").WillReturnResult(sqlmock.NewResult(0, 3))
	res, err = h.m.Query(ctx, "shop", "", "UPDATE items SET name = 'x'")
	require.NoError(t, err)
	exec, ok := res.(*ExecResult)
	require.True(t, ok)
	assert.EqualValues(t, 3, exec.AffectedRows)

	env := Wrap(res)
	assert.Equal(t, KindExec, env.Kind)
	back, err := env.Result()
	require.NoError(t, err)
	assert.Same(t, exec, back)

	_, err = Envelope{Kind: KindRows}.Result()
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = h.m.Query(ctx, "shop", "", "   ")
	assert.ErrorIs(t, err, common.ErrValidation)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestQuery_ConnectionErrorMovesToError(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "shop")

	h.mock.ExpectExec("DELETE FROM items").WillReturnError(gomysql.ErrInvalidConn)
	_, err := h.m.Query(context.Background(), "shop", "", "DELETE FROM items")
	assert.ErrorIs(t, err, common.ErrTransport)

	st := h.m.Status("shop")
	assert.Equal(t, StateError, st.State)
	assert.NotEmpty(t, st.LastError)
}

func TestQuery_SyntaxErrorKeepsConnection(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "shop")

	h.mock.ExpectExec("DELET FROM items").
		WillReturnError(&gomysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"})
	_, err := h.m.Query(context.Background(), "shop", "", "DELET FROM items")
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, StateConnected, h.m.Status("shop").State)
}

func TestSchemaStatements_QuoteIdentifiers(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "shop")
	ctx := context.Background()

	h.mock.ExpectExec("CREATE DATABASE `odd``name`").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, h.m.CreateDatabase(ctx, "shop", "odd`name"))

	h.mock.ExpectExec("DROP TABLE `shop`.`items`").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, h.m.DropTable(ctx, "shop", "shop", "items"))

	h.mock.ExpectExec("DROP DATABASE `old`").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, h.m.DropDatabase(ctx, "shop", "old"))

	assert.ErrorIs(t, h.m.CreateDatabase(ctx, "shop", ""), common.ErrValidation)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestApplyTLS(t *testing.T) {
	cfg := gomysql.NewConfig()
	require.NoError(t, applyTLS(cfg, models.MySQLProfile{Host: "h", TLS: models.TLSOptions{Mode: models.TLSPreferred}}))
	assert.Equal(t, "preferred", cfg.TLSConfig)

	cfg = gomysql.NewConfig()
	require.NoError(t, applyTLS(cfg, models.MySQLProfile{Host: "h", TLS: models.TLSOptions{Mode: models.TLSSkipVerify}}))
	require.NotNil(t, cfg.TLS)
	assert.True(t, cfg.TLS.InsecureSkipVerify)
	assert.Equal(t, "h", cfg.TLS.ServerName)

	cfg = gomysql.NewConfig()
	err := applyTLS(cfg, models.MySQLProfile{Host: "h", TLS: models.TLSOptions{Mode: models.TLSRequired, CAFile: "/does/not/exist"}})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestIsReadQuery(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT 1", true},
		{"show tables", true},
		{"(select 1)", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"insert into t values (1)", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isReadQuery(tt.query), tt.query)
	}
}
