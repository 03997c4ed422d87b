package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llmutils"
)

type toolsCmd struct {
	Conn   serverFlags `embed:""`
	Format string      `help:"Output format" enum:"yaml,json" default:"yaml"`
}

type toolInfo struct {
	Provider    string   `json:"provider" yaml:"provider"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Required    []string `json:"required,omitempty" yaml:"required,omitempty"`
}

func (c *toolsCmd) Run(a *app) error {
	providers, closer, err := c.Conn.connect(a.ctx)
	if err != nil {
		return err
	}
	defer closer()

	list := []toolInfo{}
	for _, p := range providers {
		tools, err := p.ListTools(a.ctx)
		if err != nil {
			return errors.WithMessagef(err, "failed to list tools of %s", p.Name())
		}
		for _, t := range tools {
			ti := toolInfo{
				Provider:    p.Name(),
				Name:        t.Name,
				Description: t.Description,
			}
			if t.InputSchema != nil {
				ti.Required = t.InputSchema.Required
			}
			list = append(list, ti)
		}
	}

	if c.Format == "json" {
		_, err = fmt.Fprintln(a.out, llmutils.ToJSONIndent(list))
	} else {
		_, err = fmt.Fprint(a.out, llmutils.ToYAML(list))
	}
	return err
}
