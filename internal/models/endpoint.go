package models

type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityCritical Complexity = "critical"
)

// Static cost/complexity metadata for a route. PathPattern supports a
// single-segment wildcard "*" (e.g. /users/*/orders).
type EndpointProfile struct {
	PathPattern    string     `json:"path_pattern"`
	Method         string     `json:"method"`
	Complexity     Complexity `json:"complexity"`
	CostMultiplier float64    `json:"cost_multiplier"`
	MaxConcurrent  int        `json:"max_concurrent,omitempty"` // 0 = no cap
}

// Profile applied when no registered pattern matches.
func DefaultEndpointProfile(path, method string) EndpointProfile {
	return EndpointProfile{
		PathPattern:    path,
		Method:         method,
		Complexity:     ComplexityLow,
		CostMultiplier: 1.0,
	}
}
