package cache

import (
	"sort"
	"time"
)

const (
	PolicyFrequent = "frequent"
	PolicyModerate = "moderate"
	PolicyRare     = "rare"
)

// Policy is one caching tier. MaxSize is advisory; no backend enforces it per tier.
type Policy struct {
	Name         string        `json:"name"`
	TTL          time.Duration `json:"ttl"`
	RefreshOnHit bool          `json:"refresh_on_hit"`
	MaxSize      int           `json:"max_size"`
}

// Policies is a read-only table of tiers keyed by name.
type Policies map[string]Policy

// DefaultPolicies returns a fresh copy of the three standard tiers.
func DefaultPolicies() Policies {
	return Policies{
		PolicyFrequent: {Name: PolicyFrequent, TTL: 5 * time.Minute, RefreshOnHit: true, MaxSize: 1000},
		PolicyModerate: {Name: PolicyModerate, TTL: 30 * time.Minute, RefreshOnHit: false, MaxSize: 500},
		PolicyRare:     {Name: PolicyRare, TTL: time.Hour, RefreshOnHit: false, MaxSize: 100},
	}
}

func (p Policies) Lookup(name string) (Policy, bool) {
	policy, ok := p[name]
	return policy, ok
}

// Sorted lists the tiers ordered by TTL.
func (p Policies) Sorted() []Policy {
	out := make([]Policy, 0, len(p))
	for _, policy := range p {
		out = append(out, policy)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TTL == out[j].TTL {
			return out[i].Name < out[j].Name
		}
		return out[i].TTL < out[j].TTL
	})
	return out
}
