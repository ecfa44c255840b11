package policy

import (
	"strings"

	"github.com/ratewarden/ratewarden/internal/models"
)

// Matches request routes against registered endpoint profiles. Exact
// (method, path) pairs are checked first, then wildcard patterns in
// registration order; first match wins.
type EndpointMatcher struct {
	exact     map[string]models.EndpointProfile
	wildcards []wildcardMatcher
}

type wildcardMatcher struct {
	method   string
	segments []string
	profile  models.EndpointProfile
}

func NewEndpointMatcher(profiles []models.EndpointProfile) *EndpointMatcher {
	m := &EndpointMatcher{
		exact: make(map[string]models.EndpointProfile),
	}

	for _, p := range profiles {
		if p.CostMultiplier == 0 {
			p.CostMultiplier = 1.0
		}
		if p.Complexity == "" {
			p.Complexity = models.ComplexityLow
		}

		if strings.Contains(p.PathPattern, "*") {
			m.wildcards = append(m.wildcards, wildcardMatcher{
				method:   strings.ToUpper(p.Method),
				segments: strings.Split(p.PathPattern, "/"),
				profile:  p,
			})
			continue
		}

		m.exact[routeKey(p.Method, p.PathPattern)] = p
	}

	return m
}

// Returns the matched profile, or the default profile (cost 1.0, no cap)
// when no registration matches.
func (m *EndpointMatcher) Match(path, method string) models.EndpointProfile {
	if p, ok := m.exact[routeKey(method, path)]; ok {
		return p
	}

	segments := strings.Split(path, "/")
	for _, w := range m.wildcards {
		if w.method != strings.ToUpper(method) {
			continue
		}
		if matchSegments(w.segments, segments) {
			return w.profile
		}
	}

	return models.DefaultEndpointProfile(path, method)
}

// Each "*" matches exactly one path segment.
func matchSegments(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}

	for i, seg := range pattern {
		if seg == "*" {
			continue
		}
		if seg != path[i] {
			return false
		}
	}

	return true
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}
