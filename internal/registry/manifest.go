package registry

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// decodeManifest parses raw driver.json bytes. JSON decoding alone loses
// the friendliness real-world manifests need (numeric versions, a single
// string instead of a `supportedActions` list, etc.), so the bytes land in
// a generic map first and mapstructure performs the lenient, weakly-typed
// decode into manifest.
func decodeManifest(raw []byte) (manifest, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return manifest{}, fmt.Errorf("decoding manifest json: %w", err)
	}

	var m manifest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &m,
		TagName:          "json",
	})
	if err != nil {
		return manifest{}, fmt.Errorf("building manifest decoder: %w", err)
	}
	if err := decoder.Decode(generic); err != nil {
		return manifest{}, fmt.Errorf("decoding manifest fields: %w", err)
	}
	return m, nil
}

// Transport identifies the RPC transport a driver speaks.
type Transport string

const (
	TransportWebsocket Transport = "websocket"
	TransportHTTP      Transport = "http"
)

// manifest mirrors the on-disk driver.json schema described in the host's
// external interfaces. Unknown fields are ignored; missing required fields
// fall back to the documented defaults in fill().
type manifest struct {
	ID               string                   `json:"id"`
	Name             string                   `json:"name"`
	Version          string                   `json:"version"`
	Executable       string                   `json:"executable"`
	Transport        Transport                `json:"transport"`
	SupportedActions []string                 `json:"supportedActions"`
	SupportedSteps   []manifestStepDefinition `json:"supportedSteps"`
	Config           map[string]any           `json:"config"`
}

type manifestStepDefinition struct {
	ID          string         `json:"id"`
	Pattern     string         `json:"pattern"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Parameters  []string       `json:"parameters"`
	Examples    []string       `json:"examples"`
}

// fill applies the defaults documented in §4.1: id falls back to the
// directory basename, version to 0.0.0, transport to websocket.
func (m *manifest) fill(dirBasename string) {
	if m.ID == "" {
		m.ID = dirBasename
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if m.Transport == "" {
		m.Transport = TransportWebsocket
	}
}

// StepDefinition is the statically declared step a manifest may ship,
// contributed to the Step Registry without starting the driver.
type StepDefinition struct {
	ID          string
	Pattern     string
	Action      string
	Description string
	Parameters  []string
	Examples    []string
}

func (m *manifest) staticSteps() []StepDefinition {
	defs := make([]StepDefinition, 0, len(m.SupportedSteps))
	for _, s := range m.SupportedSteps {
		defs = append(defs, StepDefinition{
			ID:          s.ID,
			Pattern:     s.Pattern,
			Action:      s.Action,
			Description: s.Description,
			Parameters:  s.Parameters,
			Examples:    s.Examples,
		})
	}
	return defs
}
