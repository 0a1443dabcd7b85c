package graph

import (
	"testing"

	"github.com/flowforge/workflow-engine/graph/llm"
)

func TestNewRegistry_RegistersAllBuiltinTypes(t *testing.T) {
	r := NewRegistry(&llm.MockChatModel{})

	for _, nt := range []NodeType{NodeStart, NodeAgent, NodeRouter, NodeParallel, NodeWhileLoop, NodeSubflow, NodeOutput} {
		if _, ok := r.Get(nt); !ok {
			t.Errorf("expected registry to have an extension for %q", nt)
		}
	}
}

func TestRegistry_Register_Overrides(t *testing.T) {
	r := NewRegistry(&llm.MockChatModel{})
	custom := &StartExtension{}
	r.Register(NodeOutput, custom)

	got, ok := r.Get(NodeOutput)
	if !ok {
		t.Fatal("expected NodeOutput to still resolve after override")
	}
	if got != Extension(custom) {
		t.Fatal("expected Register to replace the stored extension")
	}
}

func TestRegistry_Get_UnknownType(t *testing.T) {
	r := NewRegistry(&llm.MockChatModel{})
	if _, ok := r.Get(NodeType("nope")); ok {
		t.Fatal("expected Get to report false for an unregistered node type")
	}
}
