package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ChainNode describes one entry of the linear chain, in processing order.
type ChainNode struct {
	Name    string
	Type    string
	Enabled bool
	Params  Params
}

type chainGraph struct {
	Chain []chainNode `json:"chain"`
}

type chainNode struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled *bool  `json:"enabled,omitempty"`
	Params  Params `json:"params,omitempty"`
}

// ParseChain validates and normalizes a chain description. Node names must
// be unique; the enabled flag defaults to true.
func ParseChain(jsCode string) ([]ChainNode, error) {
	if jsCode == "" {
		return nil, errors.New("empty chain description")
	}

	var graph chainGraph
	if err := json.Unmarshal([]byte(jsCode), &graph); err != nil {
		return nil, fmt.Errorf("parse chain description: %w", err)
	}

	seen := make(map[string]struct{}, len(graph.Chain))
	nodes := make([]ChainNode, 0, len(graph.Chain))

	for i, raw := range graph.Chain {
		if raw.Name == "" || raw.Type == "" {
			return nil, fmt.Errorf("chain node %d: missing name or type", i)
		}

		if _, dup := seen[raw.Name]; dup {
			return nil, fmt.Errorf("chain node %d: duplicate name %q", i, raw.Name)
		}

		seen[raw.Name] = struct{}{}

		node := ChainNode{Name: raw.Name, Type: raw.Type, Enabled: true, Params: raw.Params}
		if raw.Enabled != nil {
			node.Enabled = *raw.Enabled
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}

// DefaultChain returns the stock chain description: input trim into the
// three-band kill EQ.
func DefaultChain() string {
	graph := chainGraph{Chain: []chainNode{
		{Name: "m1_trim", Type: "m1_trim"},
		{Name: "eq", Type: "eq"},
	}}

	data, err := json.Marshal(graph)
	if err != nil {
		panic(err)
	}

	return string(data)
}

// DefaultModule returns the module payload for the built-in chain with no
// wasm kernel.
func DefaultModule() ModuleData {
	return ModuleData{JSCode: DefaultChain()}
}
