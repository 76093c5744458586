package guard

import (
	"fmt"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy defines the limits applied to a turn and to the tools it calls.
type Policy struct {
	MaxToolCalls  int      `json:"max_tool_calls" yaml:"max_tool_calls"`
	AllowedOwners []string `json:"allowed_owners" yaml:"allowed_owners"`
	MaxInputChars int      `json:"max_input_chars" yaml:"max_input_chars"`
}

// DefaultPolicy provides permissive defaults. Zero limits mean unlimited.
var DefaultPolicy = Policy{
	MaxToolCalls:  8,
	AllowedOwners: []string{"*"},
	MaxInputChars: 8000,
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
}

func (v *Violation) Error() string {
	return v.Rule + ": " + v.Message
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckToolBudget verifies that the n-th tool call of a turn (1-based) is
// within the limit.
func (g *Guard) CheckToolBudget(n int) *Violation {
	if g.policy.MaxToolCalls > 0 && n > g.policy.MaxToolCalls {
		return &Violation{
			Rule:    "max_tool_calls",
			Message: fmt.Sprintf("tool call %d exceeds the limit of %d per turn", n, g.policy.MaxToolCalls),
		}
	}
	return nil
}

// CheckOwner verifies that a tool may read the memories of owner.
// An empty allow list permits everyone.
func (g *Guard) CheckOwner(owner string) *Violation {
	if owner == "" {
		return &Violation{Rule: "allowed_owners", Message: "owner is required"}
	}
	if len(g.policy.AllowedOwners) == 0 {
		return nil
	}
	for _, pattern := range g.policy.AllowedOwners {
		match, err := doublestar.Match(pattern, owner)
		if err == nil && match {
			return nil
		}
	}
	return &Violation{Rule: "allowed_owners", Message: "owner not allowed: " + owner}
}

// CheckInput verifies an inbound message against the size limit.
func (g *Guard) CheckInput(text string) *Violation {
	if g.policy.MaxInputChars > 0 && utf8.RuneCountInString(text) > g.policy.MaxInputChars {
		return &Violation{
			Rule:    "max_input_chars",
			Message: fmt.Sprintf("message longer than %d characters", g.policy.MaxInputChars),
		}
	}
	return nil
}
