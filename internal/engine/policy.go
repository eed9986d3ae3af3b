package engine

import (
	"fmt"
	"strings"
)

// RollbackPolicy decides which failed backends are restored to their
// pre-apply checkpoint once the apply sweep has finished.
type RollbackPolicy string

const (
	// RollbackNever leaves failed backends as they are.
	RollbackNever RollbackPolicy = "never"
	// RollbackOnAnyFailure restores every backend whose apply failed, whether
	// the call errored or the result reported Success=false.
	RollbackOnAnyFailure RollbackPolicy = "on-any-failure"
	// RollbackOnFatalFailure restores only backends whose ApplyState call
	// returned an error.
	RollbackOnFatalFailure RollbackPolicy = "on-fatal-failure"
)

// ParseRollbackPolicy converts a policy name. The empty string means RollbackNever.
func ParseRollbackPolicy(raw string) (RollbackPolicy, error) {
	switch RollbackPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RollbackNever:
		return RollbackNever, nil
	case RollbackOnAnyFailure:
		return RollbackOnAnyFailure, nil
	case RollbackOnFatalFailure:
		return RollbackOnFatalFailure, nil
	default:
		return "", fmt.Errorf("unknown rollback policy %q (expected never, on-any-failure or on-fatal-failure)", raw)
	}
}

func (p RollbackPolicy) String() string {
	if p == "" {
		return string(RollbackNever)
	}
	return string(p)
}

// Set implements pflag.Value.
func (p *RollbackPolicy) Set(raw string) error {
	parsed, err := ParseRollbackPolicy(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Type implements pflag.Value.
func (p *RollbackPolicy) Type() string {
	return "policy"
}

// covers reports whether a failure of the given severity triggers rollback.
func (p RollbackPolicy) covers(fatal bool) bool {
	switch p {
	case RollbackOnAnyFailure:
		return true
	case RollbackOnFatalFailure:
		return fatal
	default:
		return false
	}
}
