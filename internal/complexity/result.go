// Package complexity estimates the cost of a GraphQL document against a
// schema and enforces complexity and depth limits before execution.
package complexity

// Result is the cost of a subtree of a document.
type Result struct {
	Complexity float64 `json:"complexity"`
	MaxDepth   int     `json:"maxDepth"`
}

// Add combines sibling results: complexities add up, depth is the deeper one.
func (r Result) Add(o Result) Result {
	return Result{
		Complexity: r.Complexity + o.Complexity,
		MaxDepth:   max(r.MaxDepth, o.MaxDepth),
	}
}
