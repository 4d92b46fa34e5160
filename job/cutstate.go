package job

import (
	"fmt"
	"strings"
)

// CutState is the execution status of one contour of a job.
type CutState int

const (
	Todo CutState = iota
	Running
	Done
	Failed
	Ignored
)

var cutStateNames = []string{"TODO", "RUNNING", "DONE", "FAILED", "IGNORED"}

func (s CutState) String() string {
	if s < 0 || int(s) >= len(cutStateNames) {
		return fmt.Sprintf("CutState(%d)", int(s))
	}
	return cutStateNames[s]
}

func (s CutState) Valid() bool {
	return s >= Todo && s <= Ignored
}

// ParseCutState parses a state name, case-insensitively.
func ParseCutState(name string) (CutState, error) {
	for i, n := range cutStateNames {
		if strings.EqualFold(n, name) {
			return CutState(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCutState, name)
}
