package notification

import (
	"errors"
	"fmt"
	"time"
)

// Kind selects the e-mail template.
type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindReminder     Kind = "reminder"
)

var (
	ErrNoRecipient  = errors.New("pledge has no donor email")
	ErrInvalidNight = errors.New("night outside campaign window")
	ErrUnknownKind  = errors.New("unknown email kind")
)

// Message is what a relay is asked to deliver.
type Message struct {
	ServiceID  string
	TemplateID string
	Kind       Kind
	Params     map[string]string
	AuthToken  string
}

// RelayResponse is the relay's acknowledgement.
type RelayResponse struct {
	ID     string
	Status int
	Text   string
}

// Receipt records a delivered message. Duplicate is set when the receipt
// was served from the dedup cache instead of a new relay call.
type Receipt struct {
	Key       string    `json:"key"`
	Kind      Kind      `json:"kind"`
	MessageID string    `json:"messageId,omitempty"`
	Status    int       `json:"status"`
	Text      string    `json:"text,omitempty"`
	SentAt    time.Time `json:"sentAt"`
	Duplicate bool      `json:"duplicate"`
}

// DeliveryError wraps a relay failure. Failed sends are not cached.
type DeliveryError struct {
	Key string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of %s failed: %v", e.Key, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
