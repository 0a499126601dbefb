package subscriberhub

import "encoding/json"

// rpcRequest is the client→server RPC envelope: a named event plus a
// correlation id the server echoes back in the ack (Socket.IO-style
// named-event + callback, spec §6 "Dashboard link").
type rpcRequest struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

// rpcAck is the server→client ack envelope.
type rpcAck struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// handleRPC dispatches one decoded rpcRequest to the Hub's RPCHandler and
// returns the ack to send back. Unknown events ack with success=false
// rather than being silently dropped, matching spec §9's "explicitly
// logged and dropped, not silently coerced" rule for unrecognized variants.
func (h *Hub) handleRPC(req rpcRequest) rpcAck {
	switch req.Event {
	case "get_settings":
		return rpcAck{ID: req.ID, Success: true, Data: h.rpc.GetSettings()}

	case "update_settings":
		var patch map[string]any
		if err := json.Unmarshal(req.Data, &patch); err != nil {
			return rpcAck{ID: req.ID, Success: false, Reason: "invalid payload"}
		}
		effective, err := h.rpc.UpdateSettings(patch)
		if err != nil {
			return rpcAck{ID: req.ID, Success: false, Reason: err.Error()}
		}
		return rpcAck{ID: req.ID, Success: true, Data: effective}

	case "manual_trade":
		var payload map[string]any
		if err := json.Unmarshal(req.Data, &payload); err != nil {
			return rpcAck{ID: req.ID, Success: false, Reason: "invalid payload"}
		}
		success, reason := h.rpc.ManualTrade(payload)
		return rpcAck{ID: req.ID, Success: success, Reason: reason}

	default:
		h.log.Debug().Str("event", req.Event).Msg("unknown subscriber rpc event, dropped")
		return rpcAck{ID: req.ID, Success: false, Reason: "unknown event"}
	}
}
