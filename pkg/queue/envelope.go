package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope is the outer transport layer of a message body. Its Message field
// holds the application payload as an encoded string.
type Envelope struct {
	Type      string `json:"Type,omitempty"`
	MessageID string `json:"MessageId,omitempty"`
	TopicArn  string `json:"TopicArn,omitempty"`
	Message   string `json:"Message"`
	Timestamp string `json:"Timestamp,omitempty"`
}

// Payload is an application message that can check its own required fields.
type Payload interface {
	Validate() error
}

// MessageParseError reports a malformed envelope or a payload missing a
// required field. Messages that fail this way are never retried.
type MessageParseError struct {
	MessageID string
	Reason    string
	Err       error
}

func (e *MessageParseError) Error() string {
	msg := "parse message"
	if e.MessageID != "" {
		msg += " " + e.MessageID
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MessageParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is a MessageParseError.
func IsParseError(err error) bool {
	var pe *MessageParseError
	return errors.As(err, &pe)
}

// Decode runs both decode passes on m.Body into p and validates it.
func Decode(m Message, p Payload) error {
	var env Envelope
	if err := json.Unmarshal([]byte(m.Body), &env); err != nil {
		return &MessageParseError{MessageID: m.ID, Reason: "decode envelope", Err: err}
	}
	if strings.TrimSpace(env.Message) == "" {
		return &MessageParseError{MessageID: m.ID, Reason: "envelope has no Message"}
	}
	if err := json.Unmarshal([]byte(env.Message), p); err != nil {
		return &MessageParseError{MessageID: m.ID, Reason: "decode payload", Err: err}
	}
	if err := p.Validate(); err != nil {
		return &MessageParseError{MessageID: m.ID, Reason: "invalid payload", Err: err}
	}
	return nil
}

// Encode marshals v as a payload string.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// Wrap builds the outer envelope around an encoded payload, for channels
// that do not add one themselves.
func Wrap(payload []byte, messageID string) (string, error) {
	b, err := json.Marshal(Envelope{Type: "Notification", MessageID: messageID, Message: string(payload)})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}

// missing returns an error naming the first empty field.
func missing(fields ...[2]string) error {
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			return fmt.Errorf("missing required field %q", f[0])
		}
	}
	return nil
}
