package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"burstfs/internal/logging"
	"burstfs/internal/metrics"

	"google.golang.org/grpc"
)

const serviceName = "burstfs.rpc.Dispatch"

// Handler processes one RPC tag's Envelope into a Reply. A returned error
// is treated as a transport-level failure (it becomes a gRPC status the
// client's retry loop sees); a handled domain failure (spec §7's NotFound,
// Exists, ...) must instead be encoded into Reply.Err via
// EncodeApplicationError so the client does not retry it.
type Handler func(ctx context.Context, req *Envelope) (*Reply, error)

// Server dispatches inbound Envelopes to handlers registered by RPC tag,
// replacing one generated gRPC method per tag with a single generic
// service (spec §4.7, §6).
type Server struct {
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewServer creates an empty dispatch table. Metrics recording is a no-op
// until UseMetrics is called.
func NewServer(logger *slog.Logger) *Server {
	return &Server{
		logger:   logging.Default(logger).With("component", logging.ComponentRPC),
		metrics:  metrics.NewNoop(),
		handlers: make(map[string]Handler),
	}
}

// UseMetrics swaps in a real Recorder so every dispatched call is observed.
func (s *Server) UseMetrics(r *metrics.Recorder) {
	s.metrics = r
}

// Handle registers h for rpcID, overwriting any previous registration.
func (s *Server) Handle(rpcID string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[rpcID] = h
}

// Register binds s's dispatch table onto grpcServer.
func (s *Server) Register(grpcServer *grpc.Server) {
	desc := s.serviceDesc()
	grpcServer.RegisterService(&desc, s)
}

func (s *Server) dispatch(ctx context.Context, req *Envelope) (*Reply, error) {
	s.mu.RLock()
	h, ok := s.handlers[req.RPCID]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("no handler registered", "rpc_id", req.RPCID)
		return &Reply{Err: fmt.Sprintf("rpc: no handler registered for %q", req.RPCID)}, nil
	}
	decoded, err := decompressBulk(req.Bulk)
	if err != nil {
		return &Reply{Err: fmt.Sprintf("rpc: %v", err)}, nil
	}
	req.Bulk = decoded

	start := time.Now()
	reply, err := h(ctx, req)
	failed := err != nil || (reply != nil && reply.Err != "")
	s.metrics.ObserveRPC(req.RPCID, time.Since(start).Seconds(), failed)
	if reply != nil {
		reply.Bulk = compressBulk(reply.Bulk)
	}
	return reply, err
}

func (s *Server) serviceDesc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Call",
				Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
					in := new(Envelope)
					if err := dec(in); err != nil {
						return nil, err
					}
					self := srv.(*Server)
					if interceptor == nil {
						return self.dispatch(ctx, in)
					}
					info := &grpc.UnaryServerInfo{Server: self, FullMethod: "/" + serviceName + "/Call"}
					wrapped := func(ctx context.Context, req any) (any, error) {
						return self.dispatch(ctx, req.(*Envelope))
					}
					return interceptor(ctx, in, info, wrapped)
				},
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "internal/rpc/server.go",
	}
}
