package tools

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mcplsp/bridge/internal/plan"
)

// PlanStore holds plans between a *.plan call and the later plan.apply
// call that consumes them. Plans are opaque handles to MCP callers: the
// wire response carries only an id plus the plan's summary/warnings,
// never the Plan value itself, so apply always re-fetches the
// authoritative *plan.Plan this process built.
type PlanStore struct {
	mu    sync.Mutex
	plans map[string]*plan.Plan
}

// NewPlanStore builds an empty PlanStore.
func NewPlanStore() *PlanStore {
	return &PlanStore{plans: make(map[string]*plan.Plan)}
}

// Put stores p and returns the id callers reference it by.
func (s *PlanStore) Put(p *plan.Plan) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.plans[id] = p
	s.mu.Unlock()
	return id
}

// Take returns and removes the plan for id; a plan is applied at most
// once from the store regardless of how Applier itself enforces reuse.
func (s *PlanStore) Take(id string) (*plan.Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if ok {
		delete(s.plans, id)
	}
	return p, ok
}
