package borrower

import "errors"

var (
	ErrBorrowerNotFound = errors.New("borrower not found")
	ErrEmptyUserID      = errors.New("user_id must not be empty")
	ErrEmptyFullName    = errors.New("full_name must not be empty")

	ErrEventNotFound = errors.New("raw event not found")

	ErrLoanRequestNotFound = errors.New("loan request not found")
	ErrInvalidLoanAmount   = errors.New("requested_amount must be greater than zero")
	ErrEmptyLoanPurpose    = errors.New("purpose must not be empty")
)
