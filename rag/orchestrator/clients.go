package orchestrator

import (
	"fmt"

	grounderr "github.com/sweetpotato0/grounded/errors"
	"github.com/sweetpotato0/grounded/llm"
)

// Clients holds the model clients for each pipeline role. Default backs any
// role left nil; Planner and Writer must resolve to something.
type Clients struct {
	Default llm.Client
	Planner llm.Client
	Writer  llm.Client
	Critic  llm.Client
	Judge   llm.Client // Scoring calls: coverage, complexity, reformulation
}

func pickClient(primary, fallback llm.Client) llm.Client {
	if primary != nil {
		return primary
	}
	return fallback
}

func (c Clients) validate() error {
	if pickClient(c.Planner, c.Default) == nil {
		return fmt.Errorf("%w: planner", grounderr.ErrMissingDeployment)
	}
	if pickClient(c.Writer, c.Default) == nil {
		return fmt.Errorf("%w: writer", grounderr.ErrMissingDeployment)
	}
	return nil
}

func (c Clients) planner() llm.Client { return pickClient(c.Planner, c.Default) }
func (c Clients) writer() llm.Client  { return pickClient(c.Writer, c.Default) }
func (c Clients) critic() llm.Client  { return pickClient(c.Critic, c.Default) }
func (c Clients) judge() llm.Client   { return pickClient(c.Judge, c.Default) }
