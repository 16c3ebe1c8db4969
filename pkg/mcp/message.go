package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags the variant held by a Message
type Kind int

const (
	KindRequest Kind = iota + 1
	KindNotification
	KindResponse
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrParse is returned when the payload is not valid JSON
	ErrParse = errors.New("parse error")
	// ErrInvalidMessage is returned when the payload is JSON but not a JSON-RPC 2.0 message
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is an inbound JSON-RPC message validated at the boundary.
// Exactly one of Request, Notification or Response is set, as indicated by Kind.
// A method with a null or absent id is treated as a notification.
type Message struct {
	Kind         Kind
	Request      *JSONRPCRequest
	Notification *JSONRPCNotification
	Response     *InboundResponse
}

// InboundResponse is a response or error object sent by a peer
type InboundResponse struct {
	ID     RequestID
	Result json.RawMessage
	Error  *JSONRPCError
}

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *JSONRPCError   `json:"error"`
}

// ParseMessage decodes data into the tagged union.
// Errors wrap ErrParse or ErrInvalidMessage.
func ParseMessage(data []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrParse)
	}
	if trimmed[0] == '[' {
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%w: malformed JSON", ErrParse)
		}
		return nil, fmt.Errorf("%w: batch messages are not supported", ErrInvalidMessage)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: field %q has wrong type", ErrInvalidMessage, typeErr.Field)
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if env.JSONRPC != JSPNRPCVersion {
		return nil, fmt.Errorf("%w: jsonrpc must be %q", ErrInvalidMessage, JSPNRPCVersion)
	}

	if env.ID != nil && !env.ID.IsNull() && !validID(*env.ID) {
		return nil, fmt.Errorf("%w: id must be a string or a number", ErrInvalidMessage)
	}
	hasID := env.ID != nil && !env.ID.IsNull()

	if env.Method != nil {
		if *env.Method == "" {
			return nil, fmt.Errorf("%w: method must not be empty", ErrInvalidMessage)
		}
		if env.Result != nil || env.Error != nil {
			return nil, fmt.Errorf("%w: request carries result or error", ErrInvalidMessage)
		}
		if !hasID {
			return &Message{
				Kind: KindNotification,
				Notification: &JSONRPCNotification{
					JSONRPC: env.JSONRPC,
					Method:  *env.Method,
					Params:  env.Params,
				},
			}, nil
		}
		return &Message{
			Kind: KindRequest,
			Request: &JSONRPCRequest{
				JSONRPC: env.JSONRPC,
				ID:      *env.ID,
				Method:  *env.Method,
				Params:  env.Params,
			},
		}, nil
	}

	switch {
	case env.Result != nil && env.Error != nil:
		return nil, fmt.Errorf("%w: response carries both result and error", ErrInvalidMessage)
	case env.Error != nil:
		resp := &InboundResponse{Error: env.Error}
		if env.ID != nil {
			resp.ID = *env.ID
		}
		return &Message{Kind: KindError, Response: resp}, nil
	case env.Result != nil:
		if !hasID {
			return nil, fmt.Errorf("%w: response id is required", ErrInvalidMessage)
		}
		return &Message{Kind: KindResponse, Response: &InboundResponse{ID: *env.ID, Result: env.Result}}, nil
	default:
		return nil, fmt.Errorf("%w: missing method, result or error", ErrInvalidMessage)
	}
}

// PeekID extracts the id of a payload without validating it.
// It returns an empty RequestID when none can be found.
func PeekID(data []byte) RequestID {
	var head struct {
		ID RequestID `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil
	}
	if head.ID.IsNull() || !validID(head.ID) {
		return nil
	}
	return head.ID
}

func validID(id RequestID) bool {
	b := bytes.TrimSpace(id)
	if len(b) == 0 {
		return false
	}
	switch b[0] {
	case '"':
		return true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	default:
		return false
	}
}
