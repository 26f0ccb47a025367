package feature

import "errors"

var (
	ErrNoFeatures = errors.New("no feature vector computed for borrower")
)
