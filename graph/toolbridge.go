package graph

import "context"

// externalTool is the subset of graph/tool.Tool this package depends on,
// kept local so graph never imports graph/tool; callers wire tools up
// themselves via WrapTool/RegisterTool instead.
type externalTool interface {
	Name() string
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// WrapTool adapts a graph/tool.Tool into the (ToolHandler, ToolSpec) pair a
// Scheduler needs: Tools for dispatch by name, ToolSpecs for advertising the
// tool to the model. schema describes the tool's expected input as JSON
// Schema, since graph/tool.Tool carries no schema of its own.
func WrapTool(t externalTool, description string, schema map[string]any) (ToolHandler, ToolSpec) {
	handler := func(ctx context.Context, call ToolCall) (map[string]any, error) {
		return t.Call(ctx, call.Arguments)
	}
	spec := ToolSpec{Name: t.Name(), Description: description, Schema: schema}
	return handler, spec
}

// RegisterTool wires a tool into a Scheduler's Tools/ToolSpecs maps,
// allocating them if this is the first tool registered.
func RegisterTool(s *Scheduler, t externalTool, description string, schema map[string]any) {
	if s.Tools == nil {
		s.Tools = make(map[string]ToolHandler)
	}
	if s.ToolSpecs == nil {
		s.ToolSpecs = make(map[string]ToolSpec)
	}
	handler, spec := WrapTool(t, description, schema)
	s.Tools[t.Name()] = handler
	s.ToolSpecs[t.Name()] = spec
}
