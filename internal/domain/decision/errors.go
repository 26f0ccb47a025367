package decision

import "errors"

var (
	ErrDecisionNotFound   = errors.New("credit decision not found")
	ErrInvalidScore       = errors.New("invalid credit score: must be between 0 and 1000")
	ErrInvalidDecision    = errors.New("invalid decision: must be approved, rejected or review")
	ErrEmptyModelVersion  = errors.New("model_version must not be empty")
	ErrLineageNotFound    = errors.New("decision lineage not found")
	ErrNilLineageArgument = errors.New("lineage map arguments must not be nil")
)
