// Package protocol is the JSON wire format shared by every transport.
package protocol

import (
	"bytes"
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"chat-connect/errors"
	"encoding/json"
	goerrors "errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Envelope is a single frame in either direction.
type Envelope struct {
	Type      string          `json:"type" validate:"required,max=64"`
	RequestID string          `json:"requestId,omitempty" validate:"max=128"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

var intents = map[string]func() chat.Command{
	chat.IntentGetConversations:  func() chat.Command { return &chat.GetConversations{} },
	chat.IntentGetMessages:       func() chat.Command { return &chat.GetMessages{} },
	chat.IntentStartConversation: func() chat.Command { return &chat.StartConversation{} },
	chat.IntentSendMessage:       func() chat.Command { return &chat.SendMessage{} },
	chat.IntentMarkAsRead:        func() chat.Command { return &chat.MarkAsRead{} },
	chat.IntentTypingStart:       func() chat.Command { return &chat.TypingStart{} },
	chat.IntentTypingStop:        func() chat.Command { return &chat.TypingStop{} },
	chat.IntentCreateGroup:       func() chat.Command { return &chat.CreateGroup{} },
	chat.IntentPing:              func() chat.Command { return &chat.Ping{} },
}

// Decode parses one inbound frame into its command.
// The request id is returned even when the payload is rejected, so the error can echo it.
func Decode(data []byte) (chat.Command, string, error) {
	var env Envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("%w: malformed frame", errors.ErrValidationFailed)
	}
	if err := validate.Struct(env); err != nil {
		return nil, env.RequestID, fmt.Errorf("%w: %s", errors.ErrValidationFailed, describe(err))
	}
	build, ok := intents[env.Type]
	if !ok {
		return nil, env.RequestID, fmt.Errorf("%w: unknown type %q", errors.ErrValidationFailed, env.Type)
	}
	cmd := build()
	payload := env.Payload
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = []byte("{}")
	}
	if err := strictUnmarshal(payload, cmd); err != nil {
		return nil, env.RequestID, fmt.Errorf("%w: invalid payload for %s", errors.ErrValidationFailed, env.Type)
	}
	if err := validate.Struct(cmd); err != nil {
		return nil, env.RequestID, fmt.Errorf("%w: %s", errors.ErrValidationFailed, describe(err))
	}
	return deref(cmd), env.RequestID, nil
}

// Encode renders an outbound event, echoing the request id of a reply.
func Encode(e event.Event) ([]byte, error) {
	payload, requestID := event.Unwrap(e)
	if er, ok := payload.(event.Error); ok && requestID == "" {
		requestID = er.RequestID
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: payload.Name(), RequestID: requestID, Payload: raw})
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data")
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if goerrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed on %s", fe.Field(), fe.Tag())
	}
	return err.Error()
}

func deref(cmd chat.Command) chat.Command {
	switch c := cmd.(type) {
	case *chat.GetConversations:
		return *c
	case *chat.GetMessages:
		return *c
	case *chat.StartConversation:
		return *c
	case *chat.SendMessage:
		return *c
	case *chat.MarkAsRead:
		return *c
	case *chat.TypingStart:
		return *c
	case *chat.TypingStop:
		return *c
	case *chat.CreateGroup:
		return *c
	case *chat.Ping:
		return *c
	default:
		return cmd
	}
}
