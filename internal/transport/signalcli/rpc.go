package signalcli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
)

// rpcConn is a JSON-RPC 2.0 connection to a signal-cli daemon socket.
// Responses are matched to calls by id; everything else is a notification.
type rpcConn struct {
	conn net.Conn

	requestID atomic.Uint64
	pendingMu sync.Mutex
	pending   map[string]chan *rpcResponse

	notifications chan *notification

	closeOnce sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

func dialRPC(ctx context.Context, socketPath string) (*rpcConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to signal-cli socket: %w", err)
	}
	c := &rpcConn{
		conn:          conn,
		pending:       make(map[string]chan *rpcResponse),
		notifications: make(chan *notification, 100),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *rpcConn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := "convoy-" + strconv.FormatUint(c.requestID.Add(1), 10)
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respCh := make(chan *rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s response: %w", method, ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("signal-cli connection closed")
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	}
}

func (c *rpcConn) readLoop() {
	defer close(c.done)
	defer close(c.notifications)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err == nil && resp.ID != "" {
			c.pendingMu.Lock()
			if ch, ok := c.pending[resp.ID]; ok {
				ch <- &resp
			}
			c.pendingMu.Unlock()
			continue
		}

		var n notification
		if err := json.Unmarshal(line, &n); err == nil && n.Method != "" {
			select {
			case c.notifications <- &n:
			case <-c.stopCh:
				return
			}
		}
	}
}

func (c *rpcConn) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		err = c.conn.Close()
		<-c.done
	})
	if err != nil {
		return fmt.Errorf("close signal-cli connection: %w", err)
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCError is an error reported by signal-cli.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return "signal-cli error " + strconv.Itoa(e.Code) + ": " + e.Message
}
