package rpc

// Envelope is the request shape for every RPC tag in the spec §6 surface
// (rpc_srv_*, proxy_rpc_srv_*). RPCID selects the handler; Payload is the
// tag-specific, msgpack-encoded input; Bulk carries the bulk-region stand-in
// for PULL (client→server, e.g. write_data) since this module has no real
// RDMA bulk-transfer layer — the bytes a real bulk handle would expose are
// simply embedded in the message instead.
type Envelope struct {
	RPCID   string
	Payload []byte
	Bulk    []byte
}

// Reply is the response shape for every RPC tag. Err is empty on success;
// otherwise it is one of the fserrors sentinel strings, restored on the
// caller's side by rpc.Client so errors.Is keeps working across the wire.
type Reply struct {
	Err     string
	Payload []byte
	Bulk    []byte // PUSH stand-in (server→client), e.g. read_data
}
