// Package bridge implements the relay between the program endpoint (the
// renderer) and control endpoints (operator surfaces): a websocket hub with
// role-based forwarding, a static asset server sharing its listener, and
// the client channels both sides connect with.
package bridge

import "encoding/json"

// Role classifies a relay endpoint.
type Role string

// Endpoint roles.
const (
	RoleProgram Role = "program"
	RoleControl Role = "control"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleProgram || r == RoleControl
}

// Register is the mandatory first frame on every relay connection.
type Register struct {
	Type string `json:"type"`
	Role Role   `json:"role"`
}

// registerType is the type tag of a Register frame.
const registerType = "register"

// Command names carried control→program.
const (
	CmdMIDI     = "midi"
	CmdPreset   = "preset"
	CmdGain     = "gain"
	CmdToggle   = "toggle"
	CmdRenderer = "renderer"
	CmdParam    = "param"
)

// Command is the control→program frame. The Command field selects which of
// the remaining fields are meaningful.
type Command struct {
	Command string `json:"command"`

	// midi: raw wire bytes, one int per byte.
	Data []int `json:"data,omitempty"`
	// preset: preset id.
	ID string `json:"id,omitempty"`
	// gain: band name; param: shared value field.
	Band  string  `json:"band,omitempty"`
	Value float64 `json:"value,omitempty"`
	// toggle: effect name and state.
	Name    string `json:"name,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	// renderer: renderer kind name.
	Renderer string `json:"renderer,omitempty"`
	// param: chain node and parameter.
	Effect string `json:"effect,omitempty"`
	Param  string `json:"param,omitempty"`
}

// Bytes returns the midi payload as raw bytes.
func (c Command) Bytes() []byte {
	out := make([]byte, len(c.Data))
	for i, v := range c.Data {
		out[i] = byte(v)
	}

	return out
}

// statusState is the type tag of a Status frame.
const statusState = "status"

// Status is the program→control state snapshot, broadcast on change and on
// a heartbeat.
type Status struct {
	State     string             `json:"state"`
	BPM       float64            `json:"bpm"`
	Playing   bool               `json:"playing"`
	Preset    string             `json:"preset"`
	Renderer  string             `json:"renderer"`
	Ready     bool               `json:"ready"`
	Knobs     map[string]float64 `json:"knobs,omitempty"`
	Presets   []string           `json:"presets,omitempty"`
	Renderers []string           `json:"renderers,omitempty"`
}

// encodeFrame marshals one wire frame.
func encodeFrame(v any) ([]byte, error) {
	return json.Marshal(v)
}
