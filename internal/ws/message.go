package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vango-dev/devpack/internal/errors"
	"github.com/vango-dev/devpack/internal/telemetry"
)

type outgoing struct {
	Version int             `json:"version"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   any             `json:"error,omitempty"`
}

// MessageServer bridges RPC requests and broadcasts between the apps and
// tools connected to /message. It answers "getid" and "getpeers" itself.
type MessageServer struct {
	*registry
}

// NewMessageServer creates the message server.
func NewMessageServer(logger *slog.Logger, metrics *telemetry.Metrics) *MessageServer {
	return &MessageServer{registry: newRegistry("Message", []string{"/message"}, logger, metrics)}
}

// Upgrade implements Server.
func (s *MessageServer) Upgrade(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, nil, s.handle)
}

// Broadcast sends method to every connected client.
func (s *MessageServer) Broadcast(method string, params any) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			s.logger.Error("cannot encode broadcast params", "method", method, "err", err)
			return
		}
		raw = data
	}
	s.sendBroadcast("", Broadcast{Method: method, Params: raw})
}

func (s *MessageServer) handle(c *client, data []byte) {
	env, id, err := DecodeEnvelope(data)
	if err != nil {
		s.fail(c, id, err)
		return
	}

	switch m := env.(type) {
	case Broadcast:
		s.sendBroadcast(c.id, m)
	case Request:
		if m.Target == "server" {
			err = s.serverRequest(c, m)
		} else {
			err = s.forwardRequest(c, m)
		}
	case Response:
		err = s.forwardResponse(m)
	}
	if err != nil {
		s.fail(c, id, err)
	}
}

// fail reports err to the sender when the message carried an id, otherwise
// it only logs.
func (s *MessageServer) fail(c *client, id json.RawMessage, err error) {
	if id == nil {
		s.logger.Error("handling message failed", "clientId", c.id, "err", err)
		return
	}
	reply := outgoing{Version: ProtocolVersion, ID: id, Error: err.Error()}
	if sendErr := c.sendJSON(reply); sendErr != nil {
		s.logger.Error("failed to reply with error", "clientId", c.id, "err", err, "sendErr", sendErr)
	}
}

func (s *MessageServer) sendBroadcast(from string, m Broadcast) {
	if s.Count() == 0 {
		s.logger.Warn("no apps connected, broadcast not delivered", "method", m.Method)
		return
	}
	data, err := json.Marshal(outgoing{Version: ProtocolVersion, Method: m.Method, Params: m.Params})
	if err != nil {
		s.logger.Error("cannot encode broadcast", "method", m.Method, "err", err)
		return
	}
	s.fanout(data, func(peer *client) bool { return peer.id != from })
}

func (s *MessageServer) serverRequest(c *client, m Request) error {
	var result any
	switch m.Method {
	case "getid":
		result = c.id
	case "getpeers":
		peers := make(map[string]map[string]string)
		for _, peer := range s.snapshot() {
			if peer.id == c.id {
				continue
			}
			params := make(map[string]string, len(peer.query))
			for k := range peer.query {
				params[k] = peer.query.Get(k)
			}
			peers[peer.id] = params
		}
		result = peers
	default:
		return errors.New("E204").WithDetailf("unknown method: %s", m.Method)
	}
	return c.sendJSON(outgoing{Version: ProtocolVersion, ID: m.ID, Result: result})
}

func (s *MessageServer) forwardRequest(c *client, m Request) error {
	target, ok := s.get(m.Target)
	if !ok {
		return errors.New("E204").WithDetailf("could not find id %q while forwarding request", m.Target)
	}
	msg := outgoing{Version: ProtocolVersion, Method: m.Method, Params: m.Params}
	if m.ID != nil {
		msg.ID = ResponseID{RequestID: m.ID, ClientID: c.id}
	}
	return target.sendJSON(msg)
}

func (s *MessageServer) forwardResponse(m Response) error {
	target, ok := s.get(m.ID.ClientID)
	if !ok {
		return errors.New("E204").WithDetailf("could not find id %q while forwarding response", m.ID.ClientID)
	}
	msg := outgoing{Version: ProtocolVersion, ID: m.ID.RequestID}
	if m.Result != nil {
		msg.Result = m.Result
	}
	if m.Error != nil {
		msg.Error = m.Error
	}
	return target.sendJSON(msg)
}
