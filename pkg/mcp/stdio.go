// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// stdioConn is a newline-delimited JSON-RPC 2.0 connection to a tool-server
// subprocess over stdin/stdout.
type stdioConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	// Serialises request/response pairs: the protocol layer issues one
	// call at a time per server.
	mu     sync.Mutex
	nextID atomic.Int64
	closed bool
	logger *zap.Logger
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// dialStdio starts the server subprocess and performs the initialize
// handshake.
func dialStdio(ctx context.Context, cfg ServerConfig, info ClientInfo, logger *zap.Logger) (*stdioConn, error) {
	// #nosec G204 -- tool servers are spawned from trusted project config
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	conn := &stdioConn{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
		logger: logger,
	}

	initParams := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo": map[string]string{
			"name":    info.Name,
			"version": info.Version,
		},
		"capabilities": map[string]interface{}{},
	}
	if _, err := conn.call(ctx, "initialize", initParams); err != nil {
		conn.close()
		return nil, fmt.Errorf("initialize handshake failed: %w", err)
	}
	if err := conn.notify("notifications/initialized", nil); err != nil {
		conn.close()
		return nil, fmt.Errorf("initialized notification failed: %w", err)
	}

	logger.Info("Tool server started",
		zap.String("command", cfg.Command),
		zap.Int("pid", cmd.Process.Pid))
	return conn, nil
}

// call issues one JSON-RPC request and waits for the matching response.
// Responses with mismatched ids are skipped; servers may interleave
// notifications which are discarded here.
func (c *stdioConn) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("connection closed")
	}

	id := c.nextID.Add(1)
	line, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	type result struct {
		resp rpcResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		for {
			raw, err := c.reader.ReadBytes('\n')
			if err != nil {
				done <- result{err: fmt.Errorf("failed to read response: %w", err)}
				return
			}
			var resp rpcResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				done <- result{err: fmt.Errorf("malformed response: %w", err)}
				return
			}
			if resp.ID != id {
				continue // notification or stale response
			}
			done <- result{resp: resp}
			return
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.resp.Error != nil {
			return nil, r.resp.Error
		}
		return r.resp.Result, nil
	}
}

// notify sends a JSON-RPC notification (no response expected).
func (c *stdioConn) notify(method string, params interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := json.Marshal(struct {
		JSONRPC string      `json:"jsonrpc"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params,omitempty"`
	}{"2.0", method, params})
	if err != nil {
		return err
	}
	_, err = c.stdin.Write(append(line, '\n'))
	return err
}

func (c *stdioConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
}
