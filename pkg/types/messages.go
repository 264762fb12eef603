package types

import "encoding/json"

// Duplex frames, both directions, JSON text:
//
//   {id, state, participants}   snapshot sent to a participant on join
//   {id, state}                 merged state after a participant's update
//   {join, participants}        roster change
//   {leave, participants}       roster change
//   {participants}              roster refresh
//   {state}                     client -> relay partial update
//
// version is attached by the relay to every frame; it increases with each
// accepted state update of that relay instance.
type Envelope struct {
	ID           string                     `json:"id,omitempty"`
	State        map[string]json.RawMessage `json:"state,omitempty"`
	Participants []string                   `json:"participants,omitempty"`
	Join         string                     `json:"join,omitempty"`
	Leave        string                     `json:"leave,omitempty"`
	Version      int                        `json:"version,omitempty"`
}

// Snapshot is the join frame. Unlike Envelope it always carries state, {}
// for a fresh room.
type Snapshot struct {
	ID           string                     `json:"id"`
	State        map[string]json.RawMessage `json:"state"`
	Participants []string                   `json:"participants"`
	Version      int                        `json:"version"`
}

// Provisioning: POST {url, options} to the bootstrap endpoint.
type ProvisionRequest struct {
	URL     string           `json:"url"`
	Options ProvisionOptions `json:"options"`
}

type ProvisionOptions struct {
	Alias string `json:"alias"`
	Retry int    `json:"retry,omitempty"`
}

// WorkerResponse is returned by both the bootstrap and the per-relay endpoint.
// Exactly one of URL (provisioning), Message, Poll or Error is expected.
type WorkerResponse struct {
	URL     string          `json:"url,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Poll    int             `json:"poll,omitempty"`
	Error   *WorkerError    `json:"error,omitempty"`
}

type WorkerError struct {
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

func (e *WorkerError) Error() string { return e.Message }

// WorkerRequest is posted to an instance url. An empty request is a poll
// follow-up.
type WorkerRequest struct {
	Message json.RawMessage `json:"message,omitempty"`
}

// RelayStatus is the message a relay answers per-relay requests with.
type RelayStatus struct {
	ServerState  int      `json:"serverState"`
	Participants []string `json:"participants"`
	Version      int      `json:"version"`
}

// GatewayResponse answers /api/worker?room=.
type GatewayResponse struct {
	Ready bool         `json:"ready"`
	WS    string       `json:"ws,omitempty"`
	Error *WorkerError `json:"error,omitempty"`
}
