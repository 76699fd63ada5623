// Package remote exposes a leasestore.Store over gRPC and provides the matching client.
package remote

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"mvlease/internal/leasestore"
	"mvlease/internal/logging"
	"mvlease/internal/tracing"
)

// Service adapts a leasestore.Store to LeaseStoreServer.
type Service struct {
	store  leasestore.Store
	logger logging.Logger
}

var _ LeaseStoreServer = (*Service)(nil)

func NewService(store leasestore.Store, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{store: store, logger: logger}
}

func (s *Service) FindOne(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req findRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(fmt.Errorf("%w: %v", leasestore.ErrInvalidFilter, err))
	}
	doc, found, err := s.store.FindOne(ctx, req.Filter, req.readOptions())
	if err != nil {
		s.logger.DebugCtx(ctx, "findOne failed", "filter", req.Filter.String(), "error", err)
		return nil, toStatus(err)
	}
	resp := findOneResponse{Found: found}
	if found {
		resp.Document = &doc
	}
	return encode(resp)
}

func (s *Service) Find(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req findRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(fmt.Errorf("%w: %v", leasestore.ErrInvalidFilter, err))
	}
	docs, err := s.store.Find(ctx, req.Filter, req.readOptions())
	if err != nil {
		s.logger.DebugCtx(ctx, "find failed", "filter", req.Filter.String(), "error", err)
		return nil, toStatus(err)
	}
	if docs == nil {
		docs = []leasestore.Document{}
	}
	return encode(findResponse{Documents: docs})
}

func (s *Service) ReplaceOne(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req replaceRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(fmt.Errorf("%w: %v", leasestore.ErrInvalidDocument, err))
	}
	res, err := s.store.ReplaceOne(ctx, req.Filter, req.Document, leasestore.ReplaceOptions{Upsert: req.Upsert})
	if err != nil {
		s.logger.DebugCtx(ctx, "replaceOne failed", "filter", req.Filter.String(), "error", err)
		return nil, toStatus(err)
	}
	return encode(replaceResponse{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedID:    res.UpsertedID,
	})
}

func (s *Service) DeleteOne(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req deleteRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(fmt.Errorf("%w: %v", leasestore.ErrInvalidFilter, err))
	}
	n, err := s.store.DeleteOne(ctx, req.Filter)
	if err != nil {
		s.logger.DebugCtx(ctx, "deleteOne failed", "filter", req.Filter.String(), "error", err)
		return nil, toStatus(err)
	}
	return encode(deleteResponse{DeletedCount: n})
}

// Server hosts the lease store service plus the standard health service.
type Server struct {
	address string
	srv     *grpc.Server
	health  *health.Server
	logger  logging.Logger
}

func NewServer(address string, store leasestore.Store, logger logging.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		address: address,
		srv:     grpc.NewServer(append([]grpc.ServerOption{tracing.ServerOption()}, opts...)...),
		health:  health.NewServer(),
		logger:  logger.With("component", "leasestore-server"),
	}
	RegisterLeaseStoreServer(s.srv, NewService(store, s.logger))
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.setServing(false)
	return s
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if s.address == "" {
		return fmt.Errorf("grpc address is empty")
	}
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	go func() {
		if err := s.Serve(lis); err != nil {
			s.logger.Error("serve stopped", "error", err)
		}
	}()
	return nil
}

// Serve blocks serving lis.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("serving lease store", "address", lis.Addr().String())
	s.setServing(true)
	return s.srv.Serve(lis)
}

func (s *Server) Stop() {
	s.setServing(false)
	s.srv.GracefulStop()
}

func (s *Server) setServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
}
