package rpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"burstfs/internal/fserrors"
	"burstfs/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type pingInput struct{ N int }
type pingOutput struct{ N int }

func startTestServer(t *testing.T, srv *Server) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	grpcServer := grpc.NewServer()
	srv.Register(grpcServer)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)
	return lis.Addr().String()
}

func dialTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cc.Close() })
	return NewClient(cc, 2*time.Second, 2)
}

func TestCallRoundTrip(t *testing.T) {
	srv := NewServer(nil)
	srv.Handle("ping", func(ctx context.Context, req *Envelope) (*Reply, error) {
		var in pingInput
		if err := DecodePayload(req.Payload, &in); err != nil {
			return nil, err
		}
		return EncodeReply(pingOutput{N: in.N + 1})
	})

	addr := startTestServer(t, srv)
	client := dialTestClient(t, addr)

	var out pingOutput
	if err := client.Call(context.Background(), "ping", pingInput{N: 41}, &out); err != nil {
		t.Fatal(err)
	}
	if out.N != 42 {
		t.Errorf("out.N = %d, want 42", out.N)
	}
}

func TestCallUnknownRPCID(t *testing.T) {
	srv := NewServer(nil)
	addr := startTestServer(t, srv)
	client := dialTestClient(t, addr)

	err := client.Call(context.Background(), "nonexistent", nil, nil)
	if err == nil {
		t.Fatal("expected an error for an unregistered RPC id")
	}
}

func TestCallApplicationErrorNotRetried(t *testing.T) {
	attempts := 0
	srv := NewServer(nil)
	srv.Handle("fail", func(ctx context.Context, req *Envelope) (*Reply, error) {
		attempts++
		return &Reply{Err: EncodeApplicationError(fserrors.NotFound)}, nil
	})

	addr := startTestServer(t, srv)
	client := dialTestClient(t, addr)

	err := client.Call(context.Background(), "fail", nil, nil)
	if !errors.Is(err, fserrors.NotFound) {
		t.Fatalf("expected fserrors.NotFound, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("application error should not be retried, got %d attempts", attempts)
	}
}

func TestCallWithBulkRoundTrip(t *testing.T) {
	srv := NewServer(nil)
	srv.Handle("echo_bulk", func(ctx context.Context, req *Envelope) (*Reply, error) {
		reversed := make([]byte, len(req.Bulk))
		for i, b := range req.Bulk {
			reversed[len(req.Bulk)-1-i] = b
		}
		return &Reply{Bulk: reversed}, nil
	})

	addr := startTestServer(t, srv)
	client := dialTestClient(t, addr)

	bulk, err := client.CallWithBulk(context.Background(), "echo_bulk", nil, nil, []byte("abcd"))
	if err != nil {
		t.Fatal(err)
	}
	if string(bulk) != "dcba" {
		t.Errorf("bulk = %q, want %q", bulk, "dcba")
	}
}

func TestDispatchRecordsMetricsWhenEnabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := NewServer(nil)
	srv.UseMetrics(metrics.New(reg))
	srv.Handle("ping", func(ctx context.Context, req *Envelope) (*Reply, error) {
		return EncodeReply(pingOutput{N: 1})
	})
	srv.Handle("fail", func(ctx context.Context, req *Envelope) (*Reply, error) {
		return &Reply{Err: EncodeApplicationError(fserrors.NotFound)}, nil
	})

	addr := startTestServer(t, srv)
	client := dialTestClient(t, addr)

	var out pingOutput
	if err := client.Call(context.Background(), "ping", nil, &out); err != nil {
		t.Fatal(err)
	}
	_ = client.Call(context.Background(), "fail", nil, nil)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var sawRequests, sawErrors bool
	for _, mf := range families {
		switch mf.GetName() {
		case "burstfs_rpc_requests_total":
			sawRequests = len(mf.GetMetric()) > 0
		case "burstfs_rpc_errors_total":
			sawErrors = len(mf.GetMetric()) > 0
		}
	}
	if !sawRequests {
		t.Error("expected requests_total to have observations")
	}
	if !sawErrors {
		t.Error("expected errors_total to have observations")
	}
}
