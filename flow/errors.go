package flow

import "fmt"

// InvalidFlowError is returned by Compile when a flow definition is
// malformed: no root steps, an empty action identifier, or duplicate action
// identifiers.
type InvalidFlowError struct {
	Reason string
}

func (e InvalidFlowError) Error() string {
	return fmt.Sprintf("invalid flow: %s", e.Reason)
}
