package bridge

import (
	"context"
	"slices"

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
)

var empty = &Empty{}

func done(err error) (*Empty, error) {
	if err != nil {
		return nil, err
	}
	return empty, nil
}

func list[T any](items []T) *ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return &ListResponse[T]{Items: items}
}

func (s *Server) ping(ctx context.Context, _ *Empty) (*PingResponse, error) {
	return &PingResponse{Status: "OK"}, nil
}

// Profiles

func (s *Server) profilesList(ctx context.Context, _ *Empty) (*ListResponse[models.Profile], error) {
	items, err := s.svc.Profiles.List(ctx)
	if err != nil {
		return nil, err
	}
	return list(items), nil
}

func (s *Server) profilesSave(ctx context.Context, req *models.Profile) (*models.Profile, error) {
	p, err := s.svc.Profiles.Save(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Server) profilesDelete(ctx context.Context, req *IDRequest) (*Empty, error) {
	return done(s.svc.Profiles.Delete(ctx, req.ID))
}

// Sessions

func (s *Server) sessionConnect(ctx context.Context, req *ProfileRequest) (*SessionResponse, error) {
	id, err := s.svc.Sessions.Connect(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}
	return &SessionResponse{SessionID: id}, nil
}

func (s *Server) sessionDisconnect(ctx context.Context, req *SessionRequest) (*Empty, error) {
	return done(s.svc.Sessions.Disconnect(ctx, req.SessionID))
}

func (s *Server) sessionStatus(ctx context.Context, req *SessionRequest) (*session.Status, error) {
	st, err := s.svc.Sessions.Status(req.SessionID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Server) sessionList(ctx context.Context, _ *Empty) (*ListResponse[session.Status], error) {
	return list(s.svc.Sessions.List()), nil
}

// Terminals

func (s *Server) terminalOpen(ctx context.Context, req *TerminalOpenRequest) (*TerminalResponse, error) {
	id, err := s.svc.Terminals.Open(ctx, req.SessionID, req.Cols, req.Rows)
	if err != nil {
		return nil, err
	}
	return &TerminalResponse{TerminalID: id}, nil
}

func (s *Server) terminalWrite(ctx context.Context, req *TerminalWriteRequest) (*Empty, error) {
	return done(s.svc.Terminals.Write(req.TerminalID, req.Data))
}

func (s *Server) terminalResize(ctx context.Context, req *TerminalResizeRequest) (*Empty, error) {
	return done(s.svc.Terminals.Resize(req.TerminalID, req.Cols, req.Rows))
}

func (s *Server) terminalClose(ctx context.Context, req *TerminalRequest) (*Empty, error) {
	return done(s.svc.Terminals.Close(req.TerminalID))
}

func (s *Server) terminalList(ctx context.Context, _ *Empty) (*ListResponse[terminal.Info], error) {
	return list(s.svc.Terminals.List()), nil
}

// Files

func (s *Server) filesList(ctx context.Context, req *PathRequest) (*ListResponse[files.Entry], error) {
	items, err := s.svc.Files.List(req.SessionID, req.Path)
	if err != nil {
		return nil, err
	}
	return list(items), nil
}

func (s *Server) filesStat(ctx context.Context, req *PathRequest) (*files.Entry, error) {
	e, err := s.svc.Files.Stat(req.SessionID, req.Path)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Server) filesMkdir(ctx context.Context, req *PathRequest) (*Empty, error) {
	return done(s.svc.Files.Mkdir(req.SessionID, req.Path))
}

func (s *Server) filesRemove(ctx context.Context, req *RemoveRequest) (*Empty, error) {
	return done(s.svc.Files.Remove(ctx, req.SessionID, req.Path, req.Recursive))
}

func (s *Server) filesRename(ctx context.Context, req *RenameRequest) (*Empty, error) {
	return done(s.svc.Files.Rename(req.SessionID, req.From, req.To))
}

// Transfers

func (s *Server) transferDownload(ctx context.Context, req *TransferRequest) (*TaskResponse, error) {
	id, err := s.svc.Transfers.Download(ctx, req.SessionID, req.RemotePath, req.LocalPath)
	if err != nil {
		return nil, err
	}
	return &TaskResponse{TaskID: id}, nil
}

func (s *Server) transferUpload(ctx context.Context, req *TransferRequest) (*TaskResponse, error) {
	id, err := s.svc.Transfers.Upload(ctx, req.SessionID, req.LocalPath, req.RemotePath)
	if err != nil {
		return nil, err
	}
	return &TaskResponse{TaskID: id}, nil
}

func (s *Server) transferCancel(ctx context.Context, req *TaskRequest) (*Empty, error) {
	return done(s.svc.Transfers.Cancel(req.TaskID))
}

func (s *Server) transferGet(ctx context.Context, req *TaskRequest) (*transfer.Task, error) {
	t, err := s.svc.Transfers.Get(req.TaskID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) transferList(ctx context.Context, _ *Empty) (*ListResponse[transfer.Task], error) {
	return list(s.svc.Transfers.List()), nil
}

func (s *Server) transferPrune(ctx context.Context, _ *Empty) (*PruneResponse, error) {
	return &PruneResponse{Removed: s.svc.Transfers.Prune()}, nil
}

// Host keys

func (s *Server) hostKeyRespond(ctx context.Context, req *HostKeyRespondRequest) (*Empty, error) {
	return done(s.svc.HostKeys.Respond(req.RequestID, req.Allow))
}

func (s *Server) hostKeyPending(ctx context.Context, _ *Empty) (*ListResponse[hostkey.Challenge], error) {
	return list(s.svc.HostKeys.Pending()), nil
}

// Credentials

func (s *Server) credentialsSetPassword(ctx context.Context, req *SecretRequest) (*Empty, error) {
	return done(s.svc.Credentials.SetPassword(ctx, req.ProfileID, req.Secret))
}

func (s *Server) credentialsSetPassphrase(ctx context.Context, req *SecretRequest) (*Empty, error) {
	return done(s.svc.Credentials.SetPassphrase(ctx, req.ProfileID, req.Secret))
}

func (s *Server) credentialsDelete(ctx context.Context, req *ProfileRequest) (*Empty, error) {
	return done(s.svc.Credentials.Delete(ctx, req.ProfileID))
}

func (s *Server) credentialsStatus(ctx context.Context, req *ProfileRequest) (*credentials.Status, error) {
	st, err := s.svc.Credentials.Status(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// MySQL

func (s *Server) mysqlProfilesList(ctx context.Context, _ *Empty) (*ListResponse[models.MySQLProfile], error) {
	items, err := s.svc.MySQLProfiles.List(ctx)
	if err != nil {
		return nil, err
	}
	return list(items), nil
}

func (s *Server) mysqlProfilesSave(ctx context.Context, req *models.MySQLProfile) (*models.MySQLProfile, error) {
	p, err := s.svc.MySQLProfiles.Save(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Server) mysqlProfilesDelete(ctx context.Context, req *IDRequest) (*Empty, error) {
	return done(s.svc.MySQLProfiles.Delete(ctx, req.ID))
}

func (s *Server) mysqlConnect(ctx context.Context, req *ProfileRequest) (*mysql.Status, error) {
	st, err := s.svc.MySQL.Connect(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Server) mysqlDisconnect(ctx context.Context, req *ProfileRequest) (*Empty, error) {
	return done(s.svc.MySQL.Disconnect(ctx, req.ProfileID))
}

func (s *Server) mysqlStatus(ctx context.Context, req *ProfileRequest) (*mysql.Status, error) {
	st := s.svc.MySQL.Status(req.ProfileID)
	return &st, nil
}

func (s *Server) mysqlList(ctx context.Context, _ *Empty) (*ListResponse[mysql.Status], error) {
	return list(s.svc.MySQL.List()), nil
}

func (s *Server) mysqlListDatabases(ctx context.Context, req *ProfileRequest) (*NamesResponse, error) {
	names, err := s.svc.MySQL.ListDatabases(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}
	return &NamesResponse{Names: names}, nil
}

func (s *Server) mysqlListTables(ctx context.Context, req *DatabaseRequest) (*NamesResponse, error) {
	names, err := s.svc.MySQL.ListTables(ctx, req.ProfileID, req.Database)
	if err != nil {
		return nil, err
	}
	return &NamesResponse{Names: names}, nil
}

func (s *Server) mysqlTableSchema(ctx context.Context, req *TableRequest) (*ListResponse[mysql.Column], error) {
	cols, err := s.svc.MySQL.TableSchema(ctx, req.ProfileID, req.Database, req.Table)
	if err != nil {
		return nil, err
	}
	return list(cols), nil
}

func (s *Server) mysqlPreviewTable(ctx context.Context, req *PreviewRequest) (*mysql.PreviewResult, error) {
	res, err := s.svc.MySQL.PreviewTable(ctx, req.ProfileID, req.Database, req.Table, req.Filter, req.OrderBy, req.OrderDir, req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Server) mysqlQuery(ctx context.Context, req *QueryRequest) (*mysql.Envelope, error) {
	res, err := s.svc.MySQL.Query(ctx, req.ProfileID, req.Database, req.Query)
	if err != nil {
		return nil, err
	}
	env := mysql.Wrap(res)
	return &env, nil
}

func (s *Server) mysqlCreateDatabase(ctx context.Context, req *DatabaseRequest) (*Empty, error) {
	return done(s.svc.MySQL.CreateDatabase(ctx, req.ProfileID, req.Database))
}

func (s *Server) mysqlDropDatabase(ctx context.Context, req *DatabaseRequest) (*Empty, error) {
	return done(s.svc.MySQL.DropDatabase(ctx, req.ProfileID, req.Database))
}

func (s *Server) mysqlDropTable(ctx context.Context, req *TableRequest) (*Empty, error) {
	return done(s.svc.MySQL.DropTable(ctx, req.ProfileID, req.Database, req.Table))
}

func (s *Server) mysqlCredentialsSetPassword(ctx context.Context, req *SecretRequest) (*Empty, error) {
	return done(s.svc.MySQLCredentials.SetPassword(ctx, req.ProfileID, req.Secret))
}

func (s *Server) mysqlCredentialsDelete(ctx context.Context, req *ProfileRequest) (*Empty, error) {
	return done(s.svc.MySQLCredentials.Delete(ctx, req.ProfileID))
}

func (s *Server) mysqlCredentialsStatus(ctx context.Context, req *ProfileRequest) (*credentials.Status, error) {
	st, err := s.svc.MySQLCredentials.Status(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// System

func (s *Server) systemStats(ctx context.Context, _ *Empty) (*metrics.Stats, error) {
	st, err := s.svc.Stats.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// streamEvents forwards hub events until the client goes away or the bridge
// shuts down. Outstanding host-key challenges are replayed first so a late
// subscriber can still answer them.
func (s *Server) streamEvents(req *EventsRequest, stream grpc.ServerStream) error {
	ch, cancel := s.events.Subscribe(req.Names...)
	defer cancel()

	if s.svc.HostKeys != nil && (len(req.Names) == 0 || slices.Contains(req.Names, common.EventHostKeyPrompt)) {
		for _, c := range s.svc.HostKeys.Pending() {
			if err := stream.SendMsg(&common.Event{Name: common.EventHostKeyPrompt, Payload: c}); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&ev); err != nil {
				return err
			}
		}
	}
}
