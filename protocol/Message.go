package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lorenzodonini/ocpp-go/ocpp"
)

type MessageType int

const (
	CALL        MessageType = 2
	CALL_RESULT MessageType = 3
	CALL_ERROR  MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case CALL:
		return "Call"
	case CALL_RESULT:
		return "CallResult"
	case CALL_ERROR:
		return "CallError"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Message is one of *Call, *CallResult or *CallError.
type Message interface {
	GetMessageTypeId() MessageType
	GetUniqueId() string
}

type Call struct {
	UniqueId string
	Action   string
	Payload  json.RawMessage
}

type CallResult struct {
	UniqueId string
	Payload  json.RawMessage
	// Action is not part of the envelope; it is filled from the pending call
	// so the payload can be validated.
	Action string
}

type CallError struct {
	UniqueId         string
	ErrorCode        ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

func (c *Call) GetMessageTypeId() MessageType       { return CALL }
func (c *Call) GetUniqueId() string                 { return c.UniqueId }
func (c *CallResult) GetMessageTypeId() MessageType { return CALL_RESULT }
func (c *CallResult) GetUniqueId() string           { return c.UniqueId }
func (c *CallError) GetMessageTypeId() MessageType  { return CALL_ERROR }
func (c *CallError) GetUniqueId() string            { return c.UniqueId }

func (c *CallError) Error() string {
	return fmt.Sprintf("%v: %v", c.ErrorCode, c.ErrorDescription)
}

var emptyObject = json.RawMessage("{}")

func orEmpty(payload json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(payload)) == 0 {
		return emptyObject
	}
	return payload
}

func (c *Call) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{CALL, c.UniqueId, c.Action, orEmpty(c.Payload)})
}

func (c *CallResult) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{CALL_RESULT, c.UniqueId, orEmpty(c.Payload)})
}

func (c *CallError) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{CALL_ERROR, c.UniqueId, c.ErrorCode, c.ErrorDescription, orEmpty(c.ErrorDetails)})
}

// NewCall wraps a typed request in a Call with a fresh unique id.
func NewCall(request ocpp.Request) (*Call, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal %v: %w", request.GetFeatureName(), err)
	}
	return &Call{UniqueId: uuid.NewString(), Action: request.GetFeatureName(), Payload: payload}, nil
}

func NewCallResult(uniqueId string, response ocpp.Response) (*CallResult, error) {
	payload, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("marshal %v: %w", response.GetFeatureName(), err)
	}
	return &CallResult{UniqueId: uniqueId, Payload: payload, Action: response.GetFeatureName()}, nil
}

func NewCallError(uniqueId string, code ErrorCode, description string, details interface{}) *CallError {
	callError := &CallError{UniqueId: uniqueId, ErrorCode: code, ErrorDescription: description}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			callError.ErrorDetails = raw
		}
	}
	return callError
}

func Encode(message Message) ([]byte, error) {
	return json.Marshal(message)
}

// Decode parses an OCPP-J envelope. It only checks the envelope shape; the
// payload is left raw for Validate.
func Decode(raw []byte) (Message, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("not a JSON array: %v", err)}
	}
	if len(fields) < 3 {
		return nil, &DecodeError{Reason: fmt.Sprintf("expected at least 3 elements, got %d", len(fields))}
	}

	var typeId int
	if err := json.Unmarshal(fields[0], &typeId); err != nil {
		return nil, &DecodeError{Reason: "message type id is not a number"}
	}
	messageType := MessageType(typeId)

	var uniqueId string
	if err := json.Unmarshal(fields[1], &uniqueId); err != nil || uniqueId == "" {
		return nil, &DecodeError{MessageTypeId: messageType, Reason: "unique id is not a string"}
	}
	fail := func(reason string) (Message, error) {
		return nil, &DecodeError{UniqueId: uniqueId, MessageTypeId: messageType, Reason: reason}
	}

	switch messageType {
	case CALL:
		if len(fields) != 4 {
			return fail(fmt.Sprintf("call expects 4 elements, got %d", len(fields)))
		}
		var action string
		if err := json.Unmarshal(fields[2], &action); err != nil || action == "" {
			return fail("action is not a string")
		}
		return &Call{UniqueId: uniqueId, Action: action, Payload: fields[3]}, nil
	case CALL_RESULT:
		if len(fields) != 3 {
			return fail(fmt.Sprintf("call result expects 3 elements, got %d", len(fields)))
		}
		return &CallResult{UniqueId: uniqueId, Payload: fields[2]}, nil
	case CALL_ERROR:
		if len(fields) != 4 && len(fields) != 5 {
			return fail(fmt.Sprintf("call error expects 5 elements, got %d", len(fields)))
		}
		callError := &CallError{UniqueId: uniqueId}
		var code string
		if err := json.Unmarshal(fields[2], &code); err != nil {
			return fail("error code is not a string")
		}
		callError.ErrorCode = ErrorCode(code)
		if err := json.Unmarshal(fields[3], &callError.ErrorDescription); err != nil {
			return fail("error description is not a string")
		}
		if len(fields) == 5 {
			callError.ErrorDetails = fields[4]
		}
		return callError, nil
	}
	return fail(fmt.Sprintf("unknown message type %d", typeId))
}
