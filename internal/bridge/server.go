// Package bridge exposes the backend components over gRPC to a local front
// end. Messages are JSON encoded; asynchronous notifications flow through the
// Events server stream.
package bridge

import (
	"context"
	"net"

	"github.com/dmitrijs2005/goterm/internal/credentials"
	"github.com/dmitrijs2005/goterm/internal/files"
	"github.com/dmitrijs2005/goterm/internal/hostkey"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/metrics"
	"github.com/dmitrijs2005/goterm/internal/mysql"
	"github.com/dmitrijs2005/goterm/internal/services"
	"github.com/dmitrijs2005/goterm/internal/session"
	"github.com/dmitrijs2005/goterm/internal/terminal"
	"github.com/dmitrijs2005/goterm/internal/transfer"
	"google.golang.org/grpc"
)

// Services are the components served by the bridge.
type Services struct {
	Profiles         *services.ProfileService
	MySQLProfiles    *services.MySQLProfileService
	Sessions         *session.Manager
	Terminals        *terminal.Hub
	Files            *files.Service
	Transfers        *transfer.Queue
	HostKeys         *hostkey.Prompter
	Credentials      *credentials.Store
	MySQLCredentials *credentials.Store
	MySQL            *mysql.Manager
	Stats            *metrics.Collector
}

type Server struct {
	address   string
	svc       Services
	events    *Hub
	logger    logging.Logger
	jwtSecret []byte
}

func NewServer(address string, svc Services, events *Hub, secretKey []byte, l logging.Logger) *Server {
	return &Server{
		address:   address,
		svc:       svc,
		events:    events,
		logger:    l.With("module", "bridge"),
		jwtSecret: secretKey,
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is done, then closes the event streams and
// stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.errorInterceptor, s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
	)
	srv.RegisterService(&serviceDesc, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping bridge...")
		s.events.Close()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting bridge", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
