// Command mcpagent serves tools over the Model Context Protocol
// and runs an agent against configured tool servers.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/cmd", "mcpagent")

// version is set at build time
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := realMain(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Exit); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		os.Exit(1)
	}
}

func realMain(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer, exit func(int)) error {
	var cl cli
	parser, err := kong.New(&cl,
		kong.Name("mcpagent"),
		kong.Description("Model Context Protocol tool server and agent"),
		kong.UsageOnError(),
		kong.Writers(out, errOut),
		kong.Exit(exit),
		kong.Vars{"version": version},
	)
	if err != nil {
		return err
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	if cl.Debug {
		xlog.SetFormatter(xlog.NewStringFormatter(errOut))
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	}

	return kctx.Run(&app{
		ctx:    ctx,
		in:     in,
		out:    out,
		errOut: errOut,
	})
}
