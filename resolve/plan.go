package resolve

// PlanNode is one resolver invocation in an execution plan.
//
// A node is "ready" for an entity once every node named in DependsOn has
// completed for that entity. The engine does not compute dependencies from
// attribute sets; the planner that produced the plan is responsible for
// wiring edges to the producers of each input attribute.
type PlanNode struct {
	// Resolver names the resolver to invoke. It is also the node's
	// identity within the plan: a plan holds at most one node per resolver.
	Resolver string

	// Inputs is the set of attribute keys snapshotted from the entity
	// context and passed to the resolver.
	Inputs []string

	// Outputs is the set of attribute keys the resolver produces. The
	// planner guarantees each attribute is produced by exactly one node.
	Outputs []string

	// DependsOn lists the resolver names of nodes producing this node's
	// inputs. Seed attributes have no producer and appear in no edge.
	DependsOn []string

	// Batchable routes invocations of this node through the batch
	// coordinator, which coalesces pending single-entity calls into one
	// grouped call.
	Batchable bool
}

// Plan is an immutable directed acyclic graph of PlanNodes.
//
// A Plan is produced by an external planner and shared read-only across all
// entities processed against it. The engine validates node references at
// construction time; acyclicity is not checked up front, so a cycle surfaces
// as a fatal error during traversal when no node can make progress.
type Plan struct {
	nodes  []*PlanNode
	byName map[string]*PlanNode
}

// NewPlan builds a Plan from the given nodes.
//
// Returns an error if a node has an empty resolver name, two nodes share a
// resolver name, or a dependency references a node not in the plan.
func NewPlan(nodes ...*PlanNode) (*Plan, error) {
	p := &Plan{
		nodes:  make([]*PlanNode, 0, len(nodes)),
		byName: make(map[string]*PlanNode, len(nodes)),
	}
	for _, n := range nodes {
		if n == nil {
			return nil, &EngineError{Message: "plan node cannot be nil", Code: "MALFORMED_PLAN"}
		}
		if n.Resolver == "" {
			return nil, &EngineError{Message: "plan node resolver name cannot be empty", Code: "MALFORMED_PLAN"}
		}
		if _, exists := p.byName[n.Resolver]; exists {
			return nil, &EngineError{
				Message: "duplicate plan node: " + n.Resolver,
				Code:    "MALFORMED_PLAN",
			}
		}
		p.byName[n.Resolver] = n
		p.nodes = append(p.nodes, n)
	}
	for _, n := range p.nodes {
		for _, dep := range n.DependsOn {
			if _, ok := p.byName[dep]; !ok {
				return nil, &EngineError{
					Message: "plan node " + n.Resolver + " depends on unknown node: " + dep,
					Code:    "MALFORMED_PLAN",
				}
			}
		}
	}
	return p, nil
}

// Nodes returns the plan's nodes in declaration order.
// The returned slice must not be modified.
func (p *Plan) Nodes() []*PlanNode { return p.nodes }

// Node returns the node for the given resolver name.
func (p *Plan) Node(resolver string) (*PlanNode, bool) {
	n, ok := p.byName[resolver]
	return n, ok
}

// Len returns the number of nodes in the plan.
func (p *Plan) Len() int { return len(p.nodes) }
