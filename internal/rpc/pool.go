package rpc

import (
	"fmt"
	"sync"
	"time"

	"burstfs/internal/hostregistry"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Pool is a shared cache of gRPC connections to cluster peers, keyed by
// node id in the hosts registry. All forwarders (metadata, data,
// malleability) share one Pool so traffic to a given peer multiplexes
// over a single connection.
type Pool struct {
	registry hostregistry.Resolver
	creds    credentials.TransportCredentials

	mu    sync.Mutex
	conns map[int]*grpc.ClientConn
}

// NewPool creates a connection pool resolving node ids through registry.
// A nil creds uses insecure transport credentials, for development and
// for the in-process tests in this module.
func NewPool(registry hostregistry.Resolver, creds credentials.TransportCredentials) *Pool {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	return &Pool{registry: registry, creds: creds, conns: make(map[int]*grpc.ClientConn)}
}

// Conn returns a cached or newly dialed connection to node id, resolving
// its address with bounded retry (spec §4.3).
func (p *Pool) Conn(nodeID int) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[nodeID]; ok {
		return conn, nil
	}

	addr, err := hostregistry.LookupWithRetry(p.registry, nodeID)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(p.creds))
	if err != nil {
		return nil, fmt.Errorf("dial node %d at %s: %w", nodeID, addr, err)
	}
	p.conns[nodeID] = conn
	return conn, nil
}

// Client returns an rpc.Client wrapping the pooled connection to node id.
func (p *Pool) Client(nodeID int, timeout time.Duration, tries int) (*Client, error) {
	conn, err := p.Conn(nodeID)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, timeout, tries), nil
}

// Invalidate closes and drops the cached connection for a node, forcing a
// fresh dial on the next Conn call.
func (p *Pool) Invalidate(nodeID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[nodeID]; ok {
		_ = conn.Close()
		delete(p.conns, nodeID)
	}
}

// Close tears down every cached connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, id)
	}
	return nil
}
