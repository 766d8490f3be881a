package messaging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofrs/uuid"
)

// Pattern addresses a handler on the bus. String patterns travel as JSON
// strings and use the name itself as the subject. Command patterns travel as
// {"cmd":"name"} and use that compact JSON as the subject.
type Pattern struct {
	subject string
	raw     json.RawMessage
}

func StringPattern(name string) Pattern {
	raw, _ := json.Marshal(name)
	return Pattern{subject: name, raw: raw}
}

func CmdPattern(cmd string) Pattern {
	raw, _ := json.Marshal(struct {
		Cmd string `json:"cmd"`
	}{Cmd: cmd})
	return Pattern{subject: string(raw), raw: raw}
}

func (p Pattern) Subject() string { return p.subject }

func (p Pattern) String() string { return p.subject }

// Request is the envelope of a request/reply message. Events use the same
// envelope without an id.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Pattern json.RawMessage `json:"pattern"`
	Data    json.RawMessage `json:"data"`
}

type Reply struct {
	ID         string          `json:"id"`
	Response   json.RawMessage `json:"response,omitempty"`
	Err        *RemoteError    `json:"err,omitempty"`
	IsDisposed bool            `json:"isDisposed"`
}

// RemoteError is the {status, message} error shape exchanged with the other
// services. It also accepts a bare JSON string, which is what a remote handler
// produces when it throws a plain message.
type RemoteError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("remote error %d: %s", e.Status, e.Message)
}

func (e *RemoteError) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		e.Status = 0
		return json.Unmarshal(b, &e.Message)
	}

	type plain RemoteError
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = RemoteError(p)
	return nil
}

// NewRemoteError builds the error a handler replies with.
func NewRemoteError(status int, message string) *RemoteError {
	return &RemoteError{Status: status, Message: message}
}

var ErrMalformedMessage = errors.New("malformed message")

// EncodeRequest wraps data into a request envelope with a fresh id.
func EncodeRequest(p Pattern, data any) ([]byte, string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate request id: %w", err)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal %s payload: %w", p, err)
	}
	body, err := json.Marshal(Request{ID: id.String(), Pattern: p.raw, Data: payload})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal %s envelope: %w", p, err)
	}
	return body, id.String(), nil
}

// EncodeEvent wraps data into an event envelope.
func EncodeEvent(p Pattern, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", p, err)
	}
	return json.Marshal(Request{Pattern: p.raw, Data: payload})
}

func DecodeRequest(body []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage("null")
	}
	return req, nil
}

// DecodeReply unmarshals the response into out, or returns the remote error.
func DecodeReply(body []byte, out any) error {
	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if reply.Err != nil {
		return reply.Err
	}
	if out == nil || len(reply.Response) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Response, out); err != nil {
		return fmt.Errorf("%w: response: %w", ErrMalformedMessage, err)
	}
	return nil
}

// EncodeReply builds the reply to request id. A non-nil err is sent as a
// RemoteError; any error that is not one becomes a 500.
func EncodeReply(id string, response any, err error) ([]byte, error) {
	reply := Reply{ID: id, IsDisposed: true}
	if err != nil {
		var remote *RemoteError
		if !errors.As(err, &remote) {
			remote = NewRemoteError(http.StatusInternalServerError, "internal error")
		}
		reply.Err = remote
		return json.Marshal(reply)
	}

	payload, mErr := json.Marshal(response)
	if mErr != nil {
		return nil, fmt.Errorf("failed to marshal reply: %w", mErr)
	}
	reply.Response = payload
	return json.Marshal(reply)
}

// EventData extracts the payload of an event message. Bodies that are not an
// envelope are returned unchanged, so publishers may send the bare payload.
func EventData(body []byte) json.RawMessage {
	var wrapped struct {
		Pattern json.RawMessage `json:"pattern"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Pattern) > 0 && len(wrapped.Data) > 0 {
		return wrapped.Data
	}
	return body
}
