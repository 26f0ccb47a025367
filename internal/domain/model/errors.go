package model

import (
	"fmt"
	"strings"
)

// FeatureCompatError reports a feature-contract mismatch for a named
// model or detector
type FeatureCompatError struct {
	ModelName   string
	Detail      string
	MissingKeys []string
}

func (e *FeatureCompatError) Error() string {
	if len(e.MissingKeys) > 0 {
		return fmt.Sprintf("model %s: %s: %s", e.ModelName, e.Detail, strings.Join(e.MissingKeys, ", "))
	}
	return fmt.Sprintf("model %s: %s", e.ModelName, e.Detail)
}
