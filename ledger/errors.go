package ledger

// UnavailableError indicates a transient RPC/network failure; the caller
// should retry later rather than treat the underlying operation as failed
type UnavailableError struct {
	message string
}

// NewUnavailableError initializes a transient ledger error
func NewUnavailableError(message string) *UnavailableError {
	return &UnavailableError{message}
}

func (e *UnavailableError) Error() string {
	return e.message
}

// RejectedError indicates the ledger explicitly rejected or failed the
// transaction; permanent for that transaction -- the caller must re-anchor
// with a new version rather than retry the same payload
type RejectedError struct {
	message string
}

// NewRejectedError initializes a permanent ledger rejection error
func NewRejectedError(message string) *RejectedError {
	return &RejectedError{message}
}

func (e *RejectedError) Error() string {
	return e.message
}
