package job

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Descriptor is the serialized task carried in a record's payload: the
// handler to run and its arguments.
type Descriptor struct {
	// Name selects the handler in the Registry.
	Name string `json:"name"`

	// Path locates the handler's source. Informational only.
	Path string `json:"path,omitempty"`

	// Params is the handler's JSON argument.
	Params json.RawMessage `json:"params,omitempty"`

	// MaxTries overrides the record's attempt budget at enqueue time.
	MaxTries int `json:"maxTries,omitempty"`

	// Timeout is the per-execution deadline in seconds. Zero is unlimited.
	Timeout int `json:"timeOut,omitempty"`
}

// Encode serializes d for storage in a record payload.
func (d Descriptor) Encode() ([]byte, error) {
	if d.Name == "" {
		return nil, errors.New("job: descriptor has no name")
	}
	return json.Marshal(d)
}

// DecodeDescriptor parses a record payload.
func DecodeDescriptor(payload []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return Descriptor{}, fmt.Errorf("job: decode descriptor: %w", err)
	}
	if d.Name == "" {
		return Descriptor{}, errors.New("job: descriptor has no name")
	}
	return d, nil
}
