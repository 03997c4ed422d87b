package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/mcp/transport/httptransport"
	"github.com/effective-security/mcpagent/mcp/transport/ssetransport"
	"github.com/effective-security/mcpagent/mcp/transport/stdio"
	"github.com/effective-security/mcpagent/mcp/transport/wstransport"
	"github.com/effective-security/xlog"
)

type serveCmd struct {
	Transport string `help:"Transport: http, sse, ws or stdio" enum:"http,sse,ws,stdio" default:"http"`
	Addr      string `help:"Address to listen on" default:":8080"`
	Endpoint  string `help:"Path of the endpoint" default:"/mcp"`
	Name      string `help:"Server name reported to clients" default:"mcpagent"`
}

func (c *serveCmd) Run(a *app) error {
	reg, err := newBuiltinRegistry()
	if err != nil {
		return err
	}
	srv := mcp.NewServer(reg, mcp.WithServerInfo(c.Name, version))
	defer srv.Close()

	if c.Transport == "stdio" {
		tr := &closeNotifier{
			Transport: stdio.New(a.in, a.out),
			done:      make(chan struct{}),
		}
		if err := srv.Serve(a.ctx, tr); err != nil {
			return err
		}
		select {
		case <-a.ctx.Done():
		case <-tr.done:
		}
		return nil
	}

	mux := http.NewServeMux()
	var tr transport.Transport
	switch c.Transport {
	case "sse":
		sseTransport := ssetransport.NewServer(strings.TrimSuffix(c.Endpoint, "/") + "/message")
		mux.Handle(c.Endpoint, sseTransport.HandleSSE())
		mux.Handle(strings.TrimSuffix(c.Endpoint, "/")+"/message", sseTransport.HandleMessage())
		tr = sseTransport
	case "ws":
		wsTransport := wstransport.NewServer()
		mux.Handle(c.Endpoint, wsTransport)
		tr = wsTransport
	default:
		httpTransport := httptransport.NewHTTPTransport(c.Endpoint).WithAddr("")
		mux.Handle(c.Endpoint, httpTransport)
		tr = httpTransport
	}
	if err := srv.Serve(a.ctx, tr); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              c.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.KV(xlog.INFO,
			"status", "listening",
			"addr", c.Addr,
			"transport", c.Transport,
			"endpoint", c.Endpoint,
		)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server failed")
	case <-a.ctx.Done():
		logger.KV(xlog.INFO, "status", "shutting_down")
		_ = srv.Close()
		return server.Close()
	}
}

// closeNotifier signals when the stream is closed by the peer
type closeNotifier struct {
	transport.Transport
	done chan struct{}
	once sync.Once
}

func (c *closeNotifier) SetCloseHandler(handler func()) {
	c.Transport.SetCloseHandler(func() {
		if handler != nil {
			handler()
		}
		c.once.Do(func() { close(c.done) })
	})
}
