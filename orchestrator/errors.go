package orchestrator

import "errors"

// Run-level failures surfaced to the caller
var (
	// ErrRecursionExceeded means the step budget was hit. This aborts
	// the run; it is never swallowed.
	ErrRecursionExceeded = errors.New("orchestrator: step budget exceeded")

	// ErrRoutingFailure means the supervisor could not construct or
	// parse a routing decision. Callers normally degrade to the
	// general worker instead of surfacing this.
	ErrRoutingFailure = errors.New("orchestrator: routing decision failed")

	// ErrToolCallRejected marks an unknown or malformed tool call. The
	// rejection becomes a tool-result error the issuing worker can see;
	// the run continues.
	ErrToolCallRejected = errors.New("orchestrator: tool call rejected")
)

// apologyText is the fixed reply used when every model backend is
// rate limited or unreachable. The user always gets some text back.
const apologyText = "Sorry, I'm having trouble reaching my language model right now. Please try again in a moment."
