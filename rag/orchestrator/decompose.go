package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	grounderr "github.com/sweetpotato0/grounded/errors"
	"github.com/sweetpotato0/grounded/llm"
	"github.com/sweetpotato0/grounded/message"
	"github.com/sweetpotato0/grounded/pkg/logging"
	"github.com/sweetpotato0/grounded/rag/subquery"
)

// complexityScore asks the judge how hard the question is to answer in one
// retrieval pass. Failures score 0 so decomposition never triggers on a
// broken judge.
func (d *dispatcher) complexityScore(ctx context.Context, question string) float64 {
	resp, err := d.judge.Generate(ctx, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, d.cfg.ComplexityPrompt),
			message.NewMessage(message.RoleUser, question),
		},
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return 0
	}
	parsed, err := decodeJSON[struct {
		Score float64 `json:"score"`
	}](resp.Message.Text())
	if err != nil || parsed.Score < 0 || parsed.Score > 1 {
		return 0
	}
	return parsed.Score
}

// decompose splits the question into a sub-query dependency graph and
// retrieves every node in topological order, dependency-free nodes
// concurrently. A cyclic graph is invalid model output the caller must see;
// an unparseable decomposition just reports handled=false so the plan's own
// steps run instead.
func (d *dispatcher) decompose(ctx context.Context, question string, acc *evidenceAccumulator, diag *Diagnostics) (bool, error) {
	log := logging.WithComponent("decompose")

	nodes, err := d.subQueries(ctx, question)
	if err != nil {
		log.Warn("decomposition unavailable, using plan steps", "error", err)
		return false, nil
	}
	if len(nodes) > d.cfg.MaxSubQueries {
		nodes = nodes[:d.cfg.MaxSubQueries]
	}

	graph, err := subquery.NewGraph(nodes)
	if err != nil {
		if errors.Is(err, grounderr.ErrCyclicDependency) {
			return false, err
		}
		log.Warn("invalid sub-query graph, using plan steps", "error", err)
		return false, nil
	}

	diag.Mode = "decomposed"
	diag.SubQueries = len(nodes)
	d.emit.Emit(Event{Type: EventDecomposition, Payload: map[string]any{
		"sub_queries": nodes,
	}})

	var mu sync.Mutex
	perNode := make(map[string][]*Reference, len(nodes))
	err = graph.Execute(ctx, func(ctx context.Context, node subquery.Node) error {
		nodeDiag := Diagnostics{}
		refs := d.primarySearch(ctx, node.Query, d.cfg.TopK, &nodeDiag)
		mu.Lock()
		perNode[node.ID] = refs
		mu.Unlock()
		log.Debug("sub-query retrieved", "id", node.ID, "count", len(refs))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("execute sub-query graph: %w", err)
	}

	// Accumulate in node order so fusion ranks stay deterministic.
	for _, node := range graph.Nodes() {
		acc.addRefs(perNode[node.ID])
	}
	return true, nil
}

func (d *dispatcher) subQueries(ctx context.Context, question string) ([]subquery.Node, error) {
	resp, err := d.judge.Generate(ctx, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, d.cfg.DecomposePrompt),
			message.NewMessage(message.RoleUser, question),
		},
		Temperature: 0.2,
		JSONOnly:    true,
	})
	if err != nil {
		return nil, err
	}
	parsed, err := decodeJSON[struct {
		SubQueries []subquery.Node `json:"subqueries"`
	}](resp.Message.Text())
	if err != nil {
		return nil, err
	}
	if len(parsed.SubQueries) == 0 {
		return nil, fmt.Errorf("%w: empty decomposition", grounderr.ErrInvalidInput)
	}
	for i := range parsed.SubQueries {
		parsed.SubQueries[i].Query = truncateRunes(parsed.SubQueries[i].Query, d.cfg.MaxQueryLen)
	}
	return parsed.SubQueries, nil
}
