// Package tools holds the functions the voice agent may call mid-conversation.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
)

var (
	ErrUnknownTool      = goerr.New("unknown tool")
	ErrInvalidArguments = goerr.New("invalid tool arguments")
)

// Tool is a function the model can call.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]any
	Run(ctx context.Context, args map[string]any) (string, error)
}

// Definition is a tool as declared in a realtime session.update.
type Definition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry validates arguments against each tool's schema before running it.
type Registry struct {
	tools map[string]entry
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]entry, len(tools))}
	for _, t := range tools {
		if _, dup := r.tools[t.Name()]; dup {
			return nil, goerr.New("duplicate tool", goerr.V("name", t.Name()))
		}
		schema, err := compile(t.Name(), t.Parameters())
		if err != nil {
			return nil, err
		}
		r.tools[t.Name()] = entry{tool: t, schema: schema}
	}
	return r, nil
}

func compile(name string, params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, goerr.Wrap(err, "marshal tool schema", goerr.V("tool", name))
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, goerr.Wrap(err, "parse tool schema", goerr.V("tool", name))
	}
	loc := "https://relay.local/tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err = c.AddResource(loc, doc); err != nil {
		return nil, goerr.Wrap(err, "add tool schema", goerr.V("tool", name))
	}
	schema, err := c.Compile(loc)
	if err != nil {
		return nil, goerr.Wrap(err, "compile tool schema", goerr.V("tool", name))
	}
	return schema, nil
}

// Definitions lists the registered tools sorted by name.
func (r *Registry) Definitions() []Definition {
	if r == nil {
		return nil
	}
	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, Definition{
			Type:        "function",
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			Parameters:  e.tool.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Call runs the named tool with raw JSON arguments. An empty argument
// string is treated as an empty object.
func (r *Registry) Call(ctx context.Context, name, arguments string) (string, error) {
	e, ok := r.lookup(name)
	if !ok {
		metrics.ToolCalls.WithLabelValues("unknown", "error").Inc()
		return "", goerr.Wrap(ErrUnknownTool, "call", goerr.V("name", name))
	}

	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(arguments))
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "invalid").Inc()
		return "", goerr.Wrap(ErrInvalidArguments, "parse arguments", goerr.V("name", name), goerr.V("cause", err.Error()))
	}
	if err = e.schema.Validate(inst); err != nil {
		metrics.ToolCalls.WithLabelValues(name, "invalid").Inc()
		return "", goerr.Wrap(ErrInvalidArguments, "validate arguments", goerr.V("name", name), goerr.V("cause", err.Error()))
	}

	var args map[string]any
	if err = json.Unmarshal([]byte(arguments), &args); err != nil {
		metrics.ToolCalls.WithLabelValues(name, "invalid").Inc()
		return "", goerr.Wrap(ErrInvalidArguments, "decode arguments", goerr.V("name", name))
	}

	out, err := e.tool.Run(ctx, args)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return "", goerr.Wrap(err, "run tool", goerr.V("name", name))
	}
	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	return out, nil
}

func (r *Registry) lookup(name string) (entry, bool) {
	if r == nil {
		return entry{}, false
	}
	e, ok := r.tools[name]
	return e, ok
}
