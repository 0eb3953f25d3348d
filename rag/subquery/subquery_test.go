package subquery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	grounderr "github.com/sweetpotato0/grounded/errors"
)

func TestNewGraphRejectsCycle(t *testing.T) {
	_, err := NewGraph([]Node{
		{ID: "a", Query: "first", DependsOn: []string{"b"}},
		{ID: "b", Query: "second", DependsOn: []string{"a"}},
	})
	if !errors.Is(err, grounderr.ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestNewGraphRejectsSelfDependency(t *testing.T) {
	_, err := NewGraph([]Node{{ID: "a", Query: "loop", DependsOn: []string{"a"}}})
	if err == nil {
		t.Fatalf("expected error for self-dependency")
	}
}

func TestNewGraphRejectsDuplicateAndUnknownIDs(t *testing.T) {
	_, err := NewGraph([]Node{
		{ID: "a", Query: "one"},
		{ID: "a", Query: "two"},
	})
	if !errors.Is(err, grounderr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for duplicate id, got %v", err)
	}

	_, err = NewGraph([]Node{{ID: "a", Query: "one", DependsOn: []string{"ghost"}}})
	if !errors.Is(err, grounderr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown dependency, got %v", err)
	}
}

func TestExecuteRespectsDependencyOrder(t *testing.T) {
	graph, err := NewGraph([]Node{
		{ID: "root", Query: "base facts"},
		{ID: "left", Query: "left branch", DependsOn: []string{"root"}},
		{ID: "right", Query: "right branch", DependsOn: []string{"root"}},
		{ID: "join", Query: "combine", DependsOn: []string{"left", "right"}},
	})
	if err != nil {
		t.Fatalf("NewGraph error: %v", err)
	}

	var mu sync.Mutex
	position := make(map[string]int)
	err = graph.Execute(context.Background(), func(ctx context.Context, node Node) error {
		mu.Lock()
		position[node.ID] = len(position)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if len(position) != 4 {
		t.Fatalf("expected 4 nodes executed, got %d", len(position))
	}
	if position["root"] > position["left"] || position["root"] > position["right"] {
		t.Fatalf("root must run before its dependents: %v", position)
	}
	if position["join"] < position["left"] || position["join"] < position["right"] {
		t.Fatalf("join must run after both branches: %v", position)
	}
}

func TestExecutePropagatesNodeError(t *testing.T) {
	graph, err := NewGraph([]Node{
		{ID: "a", Query: "first"},
		{ID: "b", Query: "second", DependsOn: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("NewGraph error: %v", err)
	}

	wantErr := fmt.Errorf("retrieval exploded")
	ran := make(map[string]bool)
	var mu sync.Mutex
	err = graph.Execute(context.Background(), func(ctx context.Context, node Node) error {
		mu.Lock()
		ran[node.ID] = true
		mu.Unlock()
		if node.ID == "a" {
			return wantErr
		}
		return nil
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected node error surfaced, got %v", err)
	}
	if ran["b"] {
		t.Fatalf("dependent node must not run after its dependency failed")
	}
}
