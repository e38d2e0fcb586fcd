package pipeline

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged over the processor port.
const (
	// MsgNeedWasm is the processor's first frame: a request for the module.
	MsgNeedWasm = "needWasm"
	// MsgWasmBytes is the host's reply carrying ModuleData.
	MsgWasmBytes = "wasmBytes"
	// MsgReady acknowledges a successfully built chain.
	MsgReady = "ready"
	// MsgError reports a module load failure; the pipeline stays inert.
	MsgError = "error"
	// MsgToggle flips one effect's enabled flag.
	MsgToggle = "toggle"
	// MsgSetParam applies one normalized parameter value.
	MsgSetParam = "setParam"
)

// Envelope is the framing shared by every port message.
type Envelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ModuleData carries the DSP module to the processor: the chain description
// consumed by the native graph builder plus an optional wasm kernel binary.
type ModuleData struct {
	JSCode    string `json:"jsCode"`
	WasmBytes []byte `json:"wasmBytes,omitempty"`
}

// ToggleData is the payload of MsgToggle.
type ToggleData struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ParamData is the payload of MsgSetParam.
type ParamData struct {
	Effect string  `json:"effect"`
	Param  string  `json:"param"`
	Value  float64 `json:"value"`
}

// encodeMsg frames a typed payload for the port.
func encodeMsg(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("pipeline: encode %s: %w", msgType, err)
		}

		env.Data = data
	}

	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode %s: %w", msgType, err)
	}

	return frame, nil
}

// encodeErr frames an error report. Marshaling a flat struct of strings
// cannot fail.
func encodeErr(msg string) []byte {
	frame, _ := json.Marshal(Envelope{Type: MsgError, Error: msg})
	return frame
}
