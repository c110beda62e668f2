package guardian

import (
	"fmt"
	"strings"

	"github.com/bjornslib/attractor/internal/validator"
)

// ValidationError blocks execution start: the graph violates structural rules.
type ValidationError struct {
	Violations []validator.Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return fmt.Sprintf("pipeline failed structural validation:\n- %s", strings.Join(msgs, "\n- "))
}

// AbandonedError means the operator chose to stop the pipeline after an
// escalation.
type AbandonedError struct {
	PipelineID string
	Reason     string
}

func (e *AbandonedError) Error() string {
	return fmt.Sprintf("pipeline %q abandoned: %s", e.PipelineID, e.Reason)
}
