package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/rohankatakam/memorybank/internal/logging"
)

// maxFrameBytes caps one request line. Block text rides inside frames, so
// the default 64K scanner buffer is not enough.
const maxFrameBytes = 10 * 1024 * 1024

// Transport reads line-delimited JSON-RPC frames and writes responses, one
// per line. Stdout carries protocol frames only; all logging goes elsewhere.
type Transport struct {
	in      io.Reader
	handler *Handler
	logger  *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewStdioTransport serves on the process's stdin and stdout.
func NewStdioTransport(handler *Handler) *Transport {
	return NewTransport(os.Stdin, os.Stdout, handler)
}

func NewTransport(in io.Reader, out io.Writer, handler *Handler) *Transport {
	return &Transport{
		in:      in,
		out:     out,
		handler: handler,
		logger:  logging.Component("mcp"),
	}
}

// Serve reads frames until EOF or context cancellation. Malformed frames get
// a parse-error response and the loop continues.
func (t *Transport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			t.send(errorResponse(nil, codeParseError, "parse error"))
			continue
		}
		if resp := t.handler.Handle(ctx, &req); resp != nil {
			t.send(resp)
		}
	}
	return scanner.Err()
}

func (t *Transport) send(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		t.logger.Error("marshal response", "error", err)
		data, _ = json.Marshal(errorResponse(resp.ID, codeInternalError, "marshal failure"))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.out.Write(append(data, '\n')); err != nil {
		t.logger.Error("write response", "error", err)
	}
}
