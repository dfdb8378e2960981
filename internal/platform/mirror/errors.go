package mirror

import "errors"

var (
	// Lookup errors
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrRuleNotFound        = errors.New("rule not found")

	// Data errors
	ErrMissingVersionToken = errors.New("transaction has no remote version token")
	ErrNothingToApprove    = errors.New("transaction has no category or split set to approve")
	ErrSplitSumMismatch    = errors.New("split amounts do not add up to the transaction amount")
	ErrInvalidSplit        = errors.New("split requires a category and a non-zero amount")
	ErrUnresolvedCategory  = errors.New("category could not be resolved")
	ErrInvalidRule         = errors.New("rule requires a name, a condition and an action")
	ErrInvalidAlias        = errors.New("alias requires a match string and a vendor")
	ErrInvalidConnection   = errors.New("connection requires a realm id")

	// Workflow errors
	ErrExcluded = errors.New("transaction is excluded")
)
