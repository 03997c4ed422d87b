package main

import (
	"context"
	"io"

	"github.com/alecthomas/kong"
)

type cli struct {
	Debug   bool             `help:"Enable debug logs"`
	Version kong.VersionFlag `help:"Print the version and exit"`

	Serve serveCmd `cmd:"" help:"Serve the built-in tools"`
	Run   runCmd   `cmd:"" help:"Run the agent with the input"`
	Tools toolsCmd `cmd:"" help:"List the tools of the configured servers"`
}

// app is bound to the Run methods of the commands
type app struct {
	ctx    context.Context
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}
