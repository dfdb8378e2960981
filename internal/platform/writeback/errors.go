package writeback

import "errors"

var (
	// ErrUnsupportedKind is returned for record kinds whose category cannot be written back
	ErrUnsupportedKind = errors.New("record kind does not support category write-back")

	// ErrNoConfirmedToken is returned when the remote answer carries no new version token
	ErrNoConfirmedToken = errors.New("remote update returned no version token")

	// ErrInvalidAttachment is returned for an empty or oversized document
	ErrInvalidAttachment = errors.New("attachment requires a file name and content within the size limit")
)
