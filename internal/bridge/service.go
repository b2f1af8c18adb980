package bridge

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "goterm.bridge.Bridge"

const (
	methodPing   = "/" + ServiceName + "/Ping"
	methodEvents = "/" + ServiceName + "/Events"
)

// unary adapts a typed handler to a grpc.MethodDesc.
func unary[Req, Resp any](name string, fn func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*Req))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", (*Server).ping),

		unary("ProfilesList", (*Server).profilesList),
		unary("ProfilesSave", (*Server).profilesSave),
		unary("ProfilesDelete", (*Server).profilesDelete),

		unary("SessionConnect", (*Server).sessionConnect),
		unary("SessionDisconnect", (*Server).sessionDisconnect),
		unary("SessionStatus", (*Server).sessionStatus),
		unary("SessionList", (*Server).sessionList),

		unary("TerminalOpen", (*Server).terminalOpen),
		unary("TerminalWrite", (*Server).terminalWrite),
		unary("TerminalResize", (*Server).terminalResize),
		unary("TerminalClose", (*Server).terminalClose),
		unary("TerminalList", (*Server).terminalList),

		unary("FilesList", (*Server).filesList),
		unary("FilesStat", (*Server).filesStat),
		unary("FilesMkdir", (*Server).filesMkdir),
		unary("FilesRemove", (*Server).filesRemove),
		unary("FilesRename", (*Server).filesRename),

		unary("TransferDownload", (*Server).transferDownload),
		unary("TransferUpload", (*Server).transferUpload),
		unary("TransferCancel", (*Server).transferCancel),
		unary("TransferGet", (*Server).transferGet),
		unary("TransferListTasks", (*Server).transferList),
		unary("TransferPrune", (*Server).transferPrune),

		unary("HostKeyRespond", (*Server).hostKeyRespond),
		unary("HostKeyPending", (*Server).hostKeyPending),

		unary("CredentialsSetPassword", (*Server).credentialsSetPassword),
		unary("CredentialsSetPassphrase", (*Server).credentialsSetPassphrase),
		unary("CredentialsDelete", (*Server).credentialsDelete),
		unary("CredentialsStatus", (*Server).credentialsStatus),

		unary("MySQLProfilesList", (*Server).mysqlProfilesList),
		unary("MySQLProfilesSave", (*Server).mysqlProfilesSave),
		unary("MySQLProfilesDelete", (*Server).mysqlProfilesDelete),
		unary("MySQLConnect", (*Server).mysqlConnect),
		unary("MySQLDisconnect", (*Server).mysqlDisconnect),
		unary("MySQLStatus", (*Server).mysqlStatus),
		unary("MySQLList", (*Server).mysqlList),
		unary("MySQLListDatabases", (*Server).mysqlListDatabases),
		unary("MySQLListTables", (*Server).mysqlListTables),
		unary("MySQLTableSchema", (*Server).mysqlTableSchema),
		unary("MySQLPreviewTable", (*Server).mysqlPreviewTable),
		unary("MySQLQuery", (*Server).mysqlQuery),
		unary("MySQLCreateDatabase", (*Server).mysqlCreateDatabase),
		unary("MySQLDropDatabase", (*Server).mysqlDropDatabase),
		unary("MySQLDropTable", (*Server).mysqlDropTable),
		unary("MySQLCredentialsSetPassword", (*Server).mysqlCredentialsSetPassword),
		unary("MySQLCredentialsDelete", (*Server).mysqlCredentialsDelete),
		unary("MySQLCredentialsStatus", (*Server).mysqlCredentialsStatus),

		unary("SystemStats", (*Server).systemStats),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Events",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(EventsRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(*Server).streamEvents(in, stream)
			},
		},
	},
	Metadata: "bridge.json",
}
