package sender

import "fmt"

// SendError reports a Telegram call that failed after every retry.
type SendError struct {
	Action   string
	Endpoint string
	Chat     int64
	// Kind is one of the Kind* constants.
	Kind  string
	Cause error
}

func (e *SendError) Error() string {
	msg := sanitizeErrorMessage(e.Cause)
	if e.Chat != 0 {
		return fmt.Sprintf("telegram sender: %s to chat %d failed (%s): %s", e.Action, e.Chat, e.Kind, msg)
	}
	return fmt.Sprintf("telegram sender: %s failed (%s): %s", e.Action, e.Kind, msg)
}

func (e *SendError) Unwrap() error { return e.Cause }

// Code returns the failure kind for handler summaries.
func (e *SendError) Code() string { return e.Kind }
