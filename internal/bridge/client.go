package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/credentials"
	"github.com/dmitrijs2005/goterm/internal/files"
	"github.com/dmitrijs2005/goterm/internal/hostkey"
	"github.com/dmitrijs2005/goterm/internal/metrics"
	"github.com/dmitrijs2005/goterm/internal/models"
	"github.com/dmitrijs2005/goterm/internal/mysql"
	"github.com/dmitrijs2005/goterm/internal/session"
	"github.com/dmitrijs2005/goterm/internal/terminal"
	"github.com/dmitrijs2005/goterm/internal/transfer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client is the typed front-end side of the bridge.
type Client struct {
	endpointURL string
	conn        *grpc.ClientConn
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) accessTokenInterceptor(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	return invoker(withAccessToken(ctx, c.accessToken), method, req, reply, cc, opts...)
}

func (c *Client) streamAccessTokenInterceptor(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return streamer(withAccessToken(ctx, c.accessToken), desc, cc, method, opts...)
}

// NewClient prepares a connection to endpointURL. Extra dial options are
// appended after the defaults.
func NewClient(endpointURL, accessToken string, opts ...grpc.DialOption) (*Client, error) {
	c := &Client{endpointURL: endpointURL, accessToken: accessToken}

	dial := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
		grpc.WithStreamInterceptor(c.streamAccessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, dial...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method string, req any) error {
	_, err := invoke[Empty](ctx, c, method, req)
	return err
}

func items[T any](r *ListResponse[T], err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	return r.Items, nil
}

func value[T any](r *T, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	return *r, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := invoke[PingResponse](ctx, c, "Ping", empty)
	return err
}

func (c *Client) ProfilesList(ctx context.Context) ([]models.Profile, error) {
	return items(invoke[ListResponse[models.Profile]](ctx, c, "ProfilesList", empty))
}

func (c *Client) ProfilesSave(ctx context.Context, p models.Profile) (models.Profile, error) {
	return value(invoke[models.Profile](ctx, c, "ProfilesSave", &p))
}

func (c *Client) ProfilesDelete(ctx context.Context, id string) error {
	return c.call(ctx, "ProfilesDelete", &IDRequest{ID: id})
}

func (c *Client) SessionConnect(ctx context.Context, profileID string) (string, error) {
	r, err := invoke[SessionResponse](ctx, c, "SessionConnect", &ProfileRequest{ProfileID: profileID})
	if err != nil {
		return "", err
	}
	return r.SessionID, nil
}

func (c *Client) SessionDisconnect(ctx context.Context, sessionID string) error {
	return c.call(ctx, "SessionDisconnect", &SessionRequest{SessionID: sessionID})
}

func (c *Client) SessionStatus(ctx context.Context, sessionID string) (session.Status, error) {
	return value(invoke[session.Status](ctx, c, "SessionStatus", &SessionRequest{SessionID: sessionID}))
}

func (c *Client) SessionList(ctx context.Context) ([]session.Status, error) {
	return items(invoke[ListResponse[session.Status]](ctx, c, "SessionList", empty))
}

func (c *Client) TerminalOpen(ctx context.Context, sessionID string, cols, rows int) (string, error) {
	r, err := invoke[TerminalResponse](ctx, c, "TerminalOpen", &TerminalOpenRequest{SessionID: sessionID, Cols: cols, Rows: rows})
	if err != nil {
		return "", err
	}
	return r.TerminalID, nil
}

func (c *Client) TerminalWrite(ctx context.Context, terminalID string, data []byte) error {
	return c.call(ctx, "TerminalWrite", &TerminalWriteRequest{TerminalID: terminalID, Data: data})
}

func (c *Client) TerminalResize(ctx context.Context, terminalID string, cols, rows int) error {
	return c.call(ctx, "TerminalResize", &TerminalResizeRequest{TerminalID: terminalID, Cols: cols, Rows: rows})
}

func (c *Client) TerminalClose(ctx context.Context, terminalID string) error {
	return c.call(ctx, "TerminalClose", &TerminalRequest{TerminalID: terminalID})
}

func (c *Client) TerminalList(ctx context.Context) ([]terminal.Info, error) {
	return items(invoke[ListResponse[terminal.Info]](ctx, c, "TerminalList", empty))
}

func (c *Client) FilesList(ctx context.Context, sessionID, path string) ([]files.Entry, error) {
	return items(invoke[ListResponse[files.Entry]](ctx, c, "FilesList", &PathRequest{SessionID: sessionID, Path: path}))
}

func (c *Client) FilesStat(ctx context.Context, sessionID, path string) (files.Entry, error) {
	return value(invoke[files.Entry](ctx, c, "FilesStat", &PathRequest{SessionID: sessionID, Path: path}))
}

func (c *Client) FilesMkdir(ctx context.Context, sessionID, path string) error {
	return c.call(ctx, "FilesMkdir", &PathRequest{SessionID: sessionID, Path: path})
}

func (c *Client) FilesRemove(ctx context.Context, sessionID, path string, recursive bool) error {
	return c.call(ctx, "FilesRemove", &RemoveRequest{SessionID: sessionID, Path: path, Recursive: recursive})
}

func (c *Client) FilesRename(ctx context.Context, sessionID, from, to string) error {
	return c.call(ctx, "FilesRename", &RenameRequest{SessionID: sessionID, From: from, To: to})
}

func (c *Client) TransferDownload(ctx context.Context, sessionID, remotePath, localPath string) (string, error) {
	r, err := invoke[TaskResponse](ctx, c, "TransferDownload", &TransferRequest{SessionID: sessionID, RemotePath: remotePath, LocalPath: localPath})
	if err != nil {
		return "", err
	}
	return r.TaskID, nil
}

func (c *Client) TransferUpload(ctx context.Context, sessionID, localPath, remotePath string) (string, error) {
	r, err := invoke[TaskResponse](ctx, c, "TransferUpload", &TransferRequest{SessionID: sessionID, RemotePath: remotePath, LocalPath: localPath})
	if err != nil {
		return "", err
	}
	return r.TaskID, nil
}

func (c *Client) TransferCancel(ctx context.Context, taskID string) error {
	return c.call(ctx, "TransferCancel", &TaskRequest{TaskID: taskID})
}

func (c *Client) TransferGet(ctx context.Context, taskID string) (transfer.Task, error) {
	return value(invoke[transfer.Task](ctx, c, "TransferGet", &TaskRequest{TaskID: taskID}))
}

func (c *Client) TransferListTasks(ctx context.Context) ([]transfer.Task, error) {
	return items(invoke[ListResponse[transfer.Task]](ctx, c, "TransferListTasks", empty))
}

func (c *Client) TransferPrune(ctx context.Context) (int, error) {
	r, err := invoke[PruneResponse](ctx, c, "TransferPrune", empty)
	if err != nil {
		return 0, err
	}
	return r.Removed, nil
}

func (c *Client) HostKeyRespond(ctx context.Context, requestID string, allow bool) error {
	return c.call(ctx, "HostKeyRespond", &HostKeyRespondRequest{RequestID: requestID, Allow: allow})
}

func (c *Client) HostKeyPending(ctx context.Context) ([]hostkey.Challenge, error) {
	return items(invoke[ListResponse[hostkey.Challenge]](ctx, c, "HostKeyPending", empty))
}

func (c *Client) CredentialsSetPassword(ctx context.Context, profileID, secret string) error {
	return c.call(ctx, "CredentialsSetPassword", &SecretRequest{ProfileID: profileID, Secret: secret})
}

func (c *Client) CredentialsSetPassphrase(ctx context.Context, profileID, secret string) error {
	return c.call(ctx, "CredentialsSetPassphrase", &SecretRequest{ProfileID: profileID, Secret: secret})
}

func (c *Client) CredentialsDelete(ctx context.Context, profileID string) error {
	return c.call(ctx, "CredentialsDelete", &ProfileRequest{ProfileID: profileID})
}

func (c *Client) CredentialsStatus(ctx context.Context, profileID string) (credentials.Status, error) {
	return value(invoke[credentials.Status](ctx, c, "CredentialsStatus", &ProfileRequest{ProfileID: profileID}))
}

func (c *Client) MySQLProfilesList(ctx context.Context) ([]models.MySQLProfile, error) {
	return items(invoke[ListResponse[models.MySQLProfile]](ctx, c, "MySQLProfilesList", empty))
}

func (c *Client) MySQLProfilesSave(ctx context.Context, p models.MySQLProfile) (models.MySQLProfile, error) {
	return value(invoke[models.MySQLProfile](ctx, c, "MySQLProfilesSave", &p))
}

func (c *Client) MySQLProfilesDelete(ctx context.Context, id string) error {
	return c.call(ctx, "MySQLProfilesDelete", &IDRequest{ID: id})
}

func (c *Client) MySQLConnect(ctx context.Context, profileID string) (mysql.Status, error) {
	return value(invoke[mysql.Status](ctx, c, "MySQLConnect", &ProfileRequest{ProfileID: profileID}))
}

func (c *Client) MySQLDisconnect(ctx context.Context, profileID string) error {
	return c.call(ctx, "MySQLDisconnect", &ProfileRequest{ProfileID: profileID})
}

func (c *Client) MySQLStatus(ctx context.Context, profileID string) (mysql.Status, error) {
	return value(invoke[mysql.Status](ctx, c, "MySQLStatus", &ProfileRequest{ProfileID: profileID}))
}

func (c *Client) MySQLList(ctx context.Context) ([]mysql.Status, error) {
	return items(invoke[ListResponse[mysql.Status]](ctx, c, "MySQLList", empty))
}

func (c *Client) MySQLListDatabases(ctx context.Context, profileID string) ([]string, error) {
	r, err := invoke[NamesResponse](ctx, c, "MySQLListDatabases", &ProfileRequest{ProfileID: profileID})
	if err != nil {
		return nil, err
	}
	return r.Names, nil
}

func (c *Client) MySQLListTables(ctx context.Context, profileID, database string) ([]string, error) {
	r, err := invoke[NamesResponse](ctx, c, "MySQLListTables", &DatabaseRequest{ProfileID: profileID, Database: database})
	if err != nil {
		return nil, err
	}
	return r.Names, nil
}

func (c *Client) MySQLTableSchema(ctx context.Context, profileID, database, table string) ([]mysql.Column, error) {
	return items(invoke[ListResponse[mysql.Column]](ctx, c, "MySQLTableSchema", &TableRequest{ProfileID: profileID, Database: database, Table: table}))
}

func (c *Client) MySQLPreviewTable(ctx context.Context, req PreviewRequest) (mysql.PreviewResult, error) {
	return value(invoke[mysql.PreviewResult](ctx, c, "MySQLPreviewTable", &req))
}

func (c *Client) MySQLQuery(ctx context.Context, profileID, database, query string) (mysql.QueryResult, error) {
	env, err := invoke[mysql.Envelope](ctx, c, "MySQLQuery", &QueryRequest{ProfileID: profileID, Database: database, Query: query})
	if err != nil {
		return nil, err
	}
	return env.Result()
}

func (c *Client) MySQLCreateDatabase(ctx context.Context, profileID, name string) error {
	return c.call(ctx, "MySQLCreateDatabase", &DatabaseRequest{ProfileID: profileID, Database: name})
}

func (c *Client) MySQLDropDatabase(ctx context.Context, profileID, name string) error {
	return c.call(ctx, "MySQLDropDatabase", &DatabaseRequest{ProfileID: profileID, Database: name})
}

func (c *Client) MySQLDropTable(ctx context.Context, profileID, database, table string) error {
	return c.call(ctx, "MySQLDropTable", &TableRequest{ProfileID: profileID, Database: database, Table: table})
}

func (c *Client) MySQLCredentialsSetPassword(ctx context.Context, profileID, secret string) error {
	return c.call(ctx, "MySQLCredentialsSetPassword", &SecretRequest{ProfileID: profileID, Secret: secret})
}

func (c *Client) MySQLCredentialsDelete(ctx context.Context, profileID string) error {
	return c.call(ctx, "MySQLCredentialsDelete", &ProfileRequest{ProfileID: profileID})
}

func (c *Client) MySQLCredentialsStatus(ctx context.Context, profileID string) (credentials.Status, error) {
	return value(invoke[credentials.Status](ctx, c, "MySQLCredentialsStatus", &ProfileRequest{ProfileID: profileID}))
}

func (c *Client) SystemStats(ctx context.Context) (metrics.Stats, error) {
	return value(invoke[metrics.Stats](ctx, c, "SystemStats", empty))
}

var eventsDesc = &grpc.StreamDesc{StreamName: "Events", ServerStreams: true}

// EventStream receives events from the bridge.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF once the bridge closes
// the stream.
func (s *EventStream) Recv() (Event, error) {
	var ev Event
	if err := s.stream.RecvMsg(&ev); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		return Event{}, mapError(err)
	}
	return ev, nil
}

// Events opens the event stream, optionally filtered to names. Cancel ctx to
// stop it.
func (c *Client) Events(ctx context.Context, names ...string) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, eventsDesc, methodEvents)
	if err != nil {
		return nil, mapError(err)
	}
	if err := stream.SendMsg(&EventsRequest{Names: names}); err != nil {
		return nil, mapError(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, mapError(err)
	}
	return &EventStream{stream: stream}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}
