package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"burstfs/internal/fserrors"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Defaults per spec §4.7.
const (
	DefaultTimeout = 180 * time.Second
	DefaultTries   = 3
)

// Client issues Envelope RPCs over one gRPC connection, applying the
// per-call timeout and retry policy spec §4.7 and §5 describe: retries
// only re-issue the request on a transport-level failure, never on an
// application-level error.
type Client struct {
	cc      *grpc.ClientConn
	timeout time.Duration
	tries   int
}

// NewClient wraps cc. timeout <= 0 and tries <= 0 fall back to the
// package defaults (RPC_TIMEOUT=180s, RPC_TRIES=3).
func NewClient(cc *grpc.ClientConn, timeout time.Duration, tries int) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if tries <= 0 {
		tries = DefaultTries
	}
	return &Client{cc: cc, timeout: timeout, tries: tries}
}

// Call issues rpcID with input marshaled as the request payload, decoding
// the reply payload into output (which may be nil).
func (c *Client) Call(ctx context.Context, rpcID string, input, output any) error {
	_, err := c.call(ctx, rpcID, input, nil, output)
	return err
}

// CallWithBulk is Call plus an outbound bulk payload standing in for a
// PULL-capable bulk handle, and returns any inbound bulk payload the
// handler produced (a PUSH stand-in).
func (c *Client) CallWithBulk(ctx context.Context, rpcID string, input, output any, bulk []byte) ([]byte, error) {
	return c.call(ctx, rpcID, input, bulk, output)
}

func (c *Client) call(ctx context.Context, rpcID string, input any, bulk []byte, output any) ([]byte, error) {
	var payload []byte
	if input != nil {
		var err error
		payload, err = msgpack.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("%w: encode request: %v", fserrors.Invalid, err)
		}
	}
	req := &Envelope{RPCID: rpcID, Payload: payload, Bulk: compressBulk(bulk)}

	var lastErr error
	for attempt := 0; attempt < c.tries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		reply := new(Reply)
		err := c.cc.Invoke(callCtx, "/"+serviceName+"/Call", req, reply, grpc.CallContentSubtype(CodecName))
		cancel()
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				return nil, fmt.Errorf("%w: %v", fserrors.IO, err)
			}
			continue
		}
		if reply.Err != "" {
			return nil, decodeApplicationError(reply.Err)
		}
		if output != nil && len(reply.Payload) > 0 {
			if err := msgpack.Unmarshal(reply.Payload, output); err != nil {
				return nil, fmt.Errorf("%w: decode response: %v", fserrors.IO, err)
			}
		}
		replyBulk, err := decompressBulk(reply.Bulk)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", fserrors.IO, err)
		}
		return replyBulk, nil
	}
	return nil, fmt.Errorf("%w: exhausted %d attempts: %v", fserrors.Busy, c.tries, lastErr)
}

func isRetryable(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

var applicationErrorKinds = []error{
	fserrors.NotFound, fserrors.Exists, fserrors.NotEmpty,
	fserrors.Invalid, fserrors.IO, fserrors.Busy, fserrors.NoSpace,
}

// decodeApplicationError maps a Reply.Err string back to an fserrors Kind
// so errors.Is keeps working for the caller on the other side of the wire.
func decodeApplicationError(s string) error {
	for _, kind := range applicationErrorKinds {
		if s == kind.Error() {
			return kind
		}
	}
	return errors.New(s)
}

// EncodeApplicationError renders err (normally an fserrors Kind) as a
// Reply.Err string. Handlers use this instead of returning err from a
// Handler func, which would instead be read as a transport failure.
func EncodeApplicationError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
