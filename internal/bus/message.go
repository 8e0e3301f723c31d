// Package bus is a request/reply channel over Redis lists.
//
// A caller pushes a Request onto a service queue and blocks on a private
// reply list named in Request.ReplyTo. The serving side pops requests,
// dispatches them by command and pushes exactly one Reply. Delivery is
// at-least-once: a request may be handled twice if a server dies mid-flight,
// so mutating handlers must deduplicate by Request.ID.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Pattern selects the handler for a request.
type Pattern struct {
	Cmd string `json:"cmd"`
}

// Request is the wire envelope pushed onto a service queue.
type Request struct {
	ID      string          `json:"id"`
	Pattern Pattern         `json:"pattern"`
	Data    json.RawMessage `json:"data"`
	ReplyTo string          `json:"replyTo"`
}

// Reply is the wire envelope pushed onto Request.ReplyTo. A null or absent
// Response with no Err means "not found".
type Reply struct {
	ID       string          `json:"id"`
	Response json.RawMessage `json:"response,omitempty"`
	Err      *ReplyError     `json:"err,omitempty"`
}

// ReplyError is an error reported by the remote handler.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

var (
	// ErrNullResponse is returned by Client.Call when the remote side
	// answered with null.
	ErrNullResponse = errors.New("bus: null response")
	// ErrTimeout is returned when no reply arrives in time.
	ErrTimeout = errors.New("bus: reply timeout")
	// ErrUnknownCommand is replied when no handler matches a request.
	ErrUnknownCommand = errors.New("bus: unknown command")
	// ErrNoReply tells the server to send nothing for a request, for
	// duplicates whose first delivery will answer the same reply list.
	ErrNoReply = errors.New("bus: no reply")
)

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// ID is an identifier sent as a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// DecodeID reads an id sent either bare or as {field: id}.
func DecodeID(raw json.RawMessage, field string) (string, error) {
	var bare ID
	if err := json.Unmarshal(raw, &bare); err == nil && bare != "" {
		return string(bare), nil
	}
	var obj map[string]ID
	if err := json.Unmarshal(raw, &obj); err != nil || obj[field] == "" {
		return "", InvalidPayload(field + " required")
	}
	return string(obj[field]), nil
}

// InvalidPayload is the error replied for undecodable request data.
func InvalidPayload(msg string) *ReplyError {
	return &ReplyError{Code: "INVALID_PAYLOAD", Message: msg}
}
