// Package client provides the calling side of the gateway protocol:
// discover instances through the registry, pick one through the balancer,
// send the call over a pooled multiplexed transport, and turn a normalized
// ErrorResponse back into a typed error the caller can inspect.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"sqlgate/codec"
	"sqlgate/loadbalance"
	"sqlgate/message"
	"sqlgate/registry"
	"sqlgate/sqlerror"
	"sqlgate/transport"
)

type Client struct {
	registry  registry.Registry    // Instance discovery
	balancer  loadbalance.Balancer // Instance selection per call
	codecType codec.CodecType
	poolSize  int

	mu    sync.Mutex
	pools map[string]*transport.TransportPool // One pool per instance address
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, codecType codec.CodecType, poolSize int) *Client {
	return &Client{
		registry:  reg,
		balancer:  bal,
		codecType: codecType,
		poolSize:  poolSize,
		pools:     make(map[string]*transport.TransportPool),
	}
}

func (c *Client) getPool(addr string) *transport.TransportPool {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[addr]
	if !ok {
		pool = transport.NewTransportPool(addr, c.poolSize, func() (*transport.ClientTransport, error) {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return nil, err
			}
			return transport.NewClientTransport(conn, c.codecType), nil
		})
		c.pools[addr] = pool
	}
	return pool
}

// Call invokes method on the named service. args are serialized as the
// call's payload; the result payload is deserialized into reply when both
// are non-nil. connectionID names the server-side session the call runs
// against; pass "" for session-less operations.
//
// A failure served by the gateway comes back as a *sqlerror.RuntimeError
// carrying the normalized code, SQLSTATE, and severity.
func (c *Client) Call(ctx context.Context, serviceName, method, connectionID string, args, reply any) error {
	instances, err := c.registry.Discover(serviceName)
	if err != nil {
		return err
	}

	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return err
	}

	pool := c.getPool(instance.Addr)
	t, err := pool.Get()
	if err != nil {
		return err
	}
	defer pool.Put(t)

	var payload []byte
	if args != nil {
		payload, err = json.Marshal(args)
		if err != nil {
			return err
		}
	}

	_, ch, err := t.Send(&message.Call{
		Method:       method,
		ConnectionID: connectionID,
		Payload:      payload,
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		return decodeReply(r, reply)
	}
}

// OpenConnection opens a server-side session under the given id.
func (c *Client) OpenConnection(ctx context.Context, serviceName, connectionID string) error {
	return c.Call(ctx, serviceName, "openConnection", connectionID, nil, nil)
}

// CloseConnection closes a server-side session.
func (c *Client) CloseConnection(ctx context.Context, serviceName, connectionID string) error {
	return c.Call(ctx, serviceName, "closeConnection", connectionID, nil, nil)
}

// decodeReply turns a transport reply into the caller's outcome: a typed
// error for failure envelopes, an unmarshalled reply value for successes.
func decodeReply(r *transport.Reply, reply any) error {
	if r.Response == nil {
		// Bodiless failure frame — the server could not decode the request.
		return fmt.Errorf("server error: status %d with no response body", r.Status)
	}
	if e := r.Response.Error; e != nil {
		return &sqlerror.RuntimeError{
			ErrorCode: e.ErrorCode,
			SQLState:  e.SQLState,
			Severity:  e.Severity,
			Message:   e.Message,
		}
	}
	if reply != nil && r.Response.Result != nil && len(r.Response.Result.Payload) > 0 {
		return json.Unmarshal(r.Response.Result.Payload, reply)
	}
	return nil
}

// Close shuts down every transport pool.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pool := range c.pools {
		pool.Close()
	}
	c.pools = make(map[string]*transport.TransportPool)
	return nil
}
