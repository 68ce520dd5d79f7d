package app

import (
	"fmt"
	"time"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/tool"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"text to echo back"`
}

type timeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"IANA time zone name such as Europe/Berlin (default UTC)"`
}

type noteArgs struct {
	Name    string `json:"name" jsonschema:"artifact name"`
	Content string `json:"content" jsonschema:"text to store"`
}

// Catalog returns the built-in tools keyed by name, followed by extra, which
// replace built-ins of the same name.
//
// Built-ins:
//   - echo: returns its text argument
//   - current_time: the current time in a time zone
//   - save_note: stores text as a session artifact and returns its version
//   - control: session state access and flow control (see tool.ControlTool)
func Catalog(extra ...tool.Tool) (map[string]tool.Tool, error) {
	echo, err := tool.NewTypedTool("echo", "Echoes the given text.", func(_ *core.ToolContext, in echoArgs) (any, error) {
		return in.Text, nil
	})
	if err != nil {
		return nil, err
	}

	clock, err := tool.NewTypedTool("current_time", "Returns the current time in RFC 3339 format.", func(_ *core.ToolContext, in timeArgs) (any, error) {
		loc := time.UTC
		if in.Timezone != "" {
			l, err := time.LoadLocation(in.Timezone)
			if err != nil {
				return nil, fmt.Errorf("unknown time zone %q", in.Timezone)
			}
			loc = l
		}
		return time.Now().In(loc).Format(time.RFC3339), nil
	})
	if err != nil {
		return nil, err
	}

	note, err := tool.NewTypedTool("save_note", "Stores text as a named artifact of the current session.", func(tc *core.ToolContext, in noteArgs) (any, error) {
		version, err := tc.SaveArtifact(in.Name, []byte(in.Content))
		if err != nil {
			return nil, err
		}
		return map[string]any{"name": in.Name, "version": version}, nil
	})
	if err != nil {
		return nil, err
	}

	catalog := map[string]tool.Tool{}
	for _, t := range []tool.Tool{echo, clock, note, tool.NewControlTool()} {
		catalog[t.Name()] = t
	}
	for _, t := range extra {
		catalog[t.Name()] = t
	}
	return catalog, nil
}
