package ws

import (
	"bytes"
	"encoding/json"

	"github.com/vango-dev/devpack/internal/errors"
)

// ProtocolVersion is the message and events protocol version.
const ProtocolVersion = 2

// Envelope is a decoded message-channel message: a Broadcast, a Request or
// a Response.
type Envelope interface {
	envelope()
}

// Broadcast is fanned out to every other client.
type Broadcast struct {
	Method string
	Params json.RawMessage
}

// Request targets the server or another client. ID is absent for
// fire-and-forget requests.
type Request struct {
	ID     json.RawMessage
	Method string
	Target string
	Params json.RawMessage
}

// Response answers a forwarded request.
type Response struct {
	ID     ResponseID
	Result json.RawMessage
	Error  json.RawMessage
}

// ResponseID routes a response back to the client that sent the request.
type ResponseID struct {
	RequestID json.RawMessage `json:"requestId"`
	ClientID  string          `json:"clientId"`
}

func (Broadcast) envelope() {}
func (Request) envelope()   {}
func (Response) envelope()  {}

// wireMessage is the structural shape of every message. Field presence
// decides the envelope kind.
type wireMessage struct {
	Version json.RawMessage `json:"version"`
	ID      json.RawMessage `json:"id"`
	Method  json.RawMessage `json:"method"`
	Target  json.RawMessage `json:"target"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
	Params  json.RawMessage `json:"params"`
}

// DecodeEnvelope parses a message-channel message. The returned id is the
// raw request id, if any, so protocol errors can be reported to the sender.
func DecodeEnvelope(data []byte) (Envelope, json.RawMessage, error) {
	var m wireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, errors.New("E204").WithDetail("message is not a JSON object").Wrap(err)
	}
	if !versionMatches(m.Version) {
		return nil, nil, errors.New("E204").WithDetailf("wrong protocol version %s", orUndefined(m.Version))
	}

	method, hasMethod := jsonString(m.Method)
	target, hasTarget := jsonString(m.Target)

	switch {
	case hasMethod && m.ID == nil && m.Target == nil:
		return Broadcast{Method: method, Params: m.Params}, nil, nil
	case hasMethod && hasTarget:
		return Request{ID: m.ID, Method: method, Target: target, Params: m.Params}, m.ID, nil
	}

	var id ResponseID
	if len(m.ID) > 0 && m.ID[0] == '{' && json.Unmarshal(m.ID, &id) == nil &&
		id.RequestID != nil && id.ClientID != "" && (m.Result != nil || m.Error != nil) {
		return Response{ID: id, Result: m.Result, Error: m.Error}, m.ID, nil
	}
	return nil, m.ID, errors.New("E204").WithDetail("invalid message, did not match the protocol")
}

// versionMatches accepts only the JSON number ProtocolVersion; "2" is not 2.
func versionMatches(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return false
	}
	var v float64
	return json.Unmarshal(raw, &v) == nil && v == ProtocolVersion
}

func jsonString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func orUndefined(raw json.RawMessage) string {
	if raw == nil {
		return "undefined"
	}
	return string(raw)
}
