package ensemble

import (
	"fmt"
	"strings"
)

// CriticalModelFailureError is raised when no credit-scoring model
// produced an output, leaving nothing to aggregate
type CriticalModelFailureError struct {
	FailedModels []string
}

func (e *CriticalModelFailureError) Error() string {
	return fmt.Sprintf("no credit model succeeded, failed models: %s", strings.Join(e.FailedModels, ", "))
}
