package domain

// SendResult classifies the outcome of a send attempt.
type SendResult int

const (
	SendSuccess SendResult = iota
	SendFailed
	SendInvalidRecipient
)

// String returns the string representation of the SendResult.
func (r SendResult) String() string {
	switch r {
	case SendSuccess:
		return "success"
	case SendInvalidRecipient:
		return "invalid_recipient"
	default:
		return "failed"
	}
}

// SendResponse is returned by a Sender after a send attempt. Error carries
// detail for failed and invalid-recipient outcomes.
type SendResponse struct {
	Result SendResult
	Error  string
}

// Success reports whether the send attempt succeeded.
func (r SendResponse) Success() bool {
	return r.Result == SendSuccess
}
