// Package stdio implements a line-framed stream transport:
// one JSON envelope per line over a reader/writer pair.
// The stream is a single ordered channel, so the transport reports itself as Sequential.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp/transport", "stdio")

// MaxLineSize limits the size of one envelope
const MaxLineSize = 10 << 20

// Transport is a line-framed stream transport
type Transport struct {
	transport.Handlers

	reader  io.Reader
	writer  io.Writer
	closers []io.Closer
	cmd     *exec.Cmd

	writeMu   sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Transport = (*Transport)(nil)
var _ transport.Sequential = (*Transport)(nil)

// New returns a transport reading envelopes from r and writing them to w.
// If r or w implement io.Closer, they are closed by Close.
func New(r io.Reader, w io.Writer) *Transport {
	t := &Transport{
		reader: r,
		writer: w,
		done:   make(chan struct{}),
	}
	for _, c := range []any{w, r} {
		if closer, ok := c.(io.Closer); ok {
			t.closers = append(t.closers, closer)
		}
	}
	return t
}

// NewStdio returns a transport over the process standard input and output,
// used when this process is launched as a tool server.
func NewStdio() *Transport {
	return &Transport{
		reader: os.Stdin,
		writer: os.Stdout,
		done:   make(chan struct{}),
	}
}

// NewCommand returns a transport that launches the command on Start
// and talks to it over its standard input and output.
func NewCommand(command string, args []string, env map[string]string) *Transport {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	if len(env) > 0 {
		cmd.Env = os.Environ()
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cmd.Env = append(cmd.Env, k+"="+env[k])
		}
	}
	return &Transport{
		cmd:  cmd,
		done: make(chan struct{}),
	}
}

// Sequential implements transport.Sequential
func (t *Transport) Sequential() bool {
	return true
}

// Start launches the command, if any, and starts the reader.
// The reader outlives the ctx deadline, it stops on Close or end of stream.
func (t *Transport) Start(ctx context.Context) error {
	var err error
	t.startOnce.Do(func() {
		if t.cmd != nil {
			err = t.startCommand()
			if err != nil {
				return
			}
		}
		go t.readLoop(context.WithoutCancel(ctx))
	})
	return err
}

func (t *Transport) startCommand() error {
	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open stdin")
	}
	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open stdout")
	}
	if err = t.cmd.Start(); err != nil {
		return transport.WrapTransportError(err, "failed to start "+t.cmd.Path)
	}
	logger.KV(xlog.DEBUG, "status", "started", "command", t.cmd.Path, "pid", t.cmd.Process.Pid)

	t.reader = stdout
	t.writer = stdin
	t.closers = []io.Closer{stdin}
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	defer func() { _ = t.Close() }()

	br := bufio.NewReaderSize(t.reader, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > MaxLineSize {
			t.HandleError(errors.Errorf("envelope exceeds %d bytes", MaxLineSize))
		} else if line = bytes.TrimSpace(line); len(line) > 0 {
			// decoding errors are reported to the error handler and answered with a null id
			if derr := t.HandleData(ctx, line); derr != nil {
				if resp := transport.ErrorResponse(derr); resp != nil {
					if serr := t.Send(ctx, resp); serr != nil {
						t.HandleError(serr)
					}
				}
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				t.HandleError(transport.WrapTransportError(err, "failed to read"))
			}
			return
		}

		select {
		case <-t.done:
			return
		default:
		}
	}
}

// Send writes the envelope followed by a newline
func (t *Transport) Send(ctx context.Context, message *transport.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	data = append(data, '\n')

	select {
	case <-t.done:
		return errors.WithStack(transport.ErrClosed)
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writer == nil {
		return errors.WithStack(transport.ErrNotConnected)
	}
	if _, err := t.writer.Write(data); err != nil {
		return transport.WrapTransportError(err, "failed to write")
	}
	return nil
}

// Close closes the stream, stops the command if one was launched, and invokes the close handler
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		for _, c := range t.closers {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if t.cmd != nil && t.cmd.Process != nil {
			t.stopCommand()
		}
		t.HandleClose()
	})
	return err
}

func (t *Transport) stopCommand() {
	exited := make(chan struct{})
	go func() {
		_ = t.cmd.Wait()
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		_ = t.cmd.Process.Kill()
		<-exited
	}
	logger.KV(xlog.DEBUG, "status", "stopped", "command", t.cmd.Path)
}
