// Package statefile defines the persisted form of one provider: a JSON
// envelope holding the provider type, its backend configuration, and, for
// OAuth backends, the current credential record.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/orbitalfiles/orbital/internal/providerid"
)

// Sentinel errors for Decode.
var (
	ErrMalformed    = errors.New("statefile: malformed state")
	ErrTypeMismatch = errors.New("statefile: provider type mismatch")
)

// State is the envelope written to "{id}.{type}" in the data directory.
// Config is opaque here; each backend decodes its own.
type State struct {
	Type   providerid.Type `json:"type"`
	Config json.RawMessage `json:"config"`
	Token  *oauth2.Token   `json:"token,omitempty"`
}

// Stater is implemented by every backend that can be persisted.
type Stater interface {
	State() (State, error)
}

// New builds a State by encoding cfg.
func New(t providerid.Type, cfg any, tok *oauth2.Token) (State, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return State{}, fmt.Errorf("statefile: encoding %s config: %w", t, err)
	}

	return State{Type: t, Config: raw, Token: tok}, nil
}

// Encode renders s as indented JSON.
func Encode(s State) ([]byte, error) {
	if len(s.Config) == 0 {
		s.Config = json.RawMessage("{}")
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("statefile: encoding: %w", err)
	}

	return data, nil
}

// Decode parses data and checks that it describes a provider of type
// want, which comes from the file name.
func Decode(data []byte, want providerid.Type) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if s.Type == "" {
		return State{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	if s.Type != want {
		return State{}, fmt.Errorf("%w: file says %q, name says %q", ErrTypeMismatch, s.Type, want)
	}

	if len(s.Config) == 0 || string(s.Config) == "null" {
		s.Config = json.RawMessage("{}")
	}

	return s, nil
}

// DecodeConfig unmarshals the backend configuration into dst.
func (s State) DecodeConfig(dst any) error {
	if err := json.Unmarshal(s.Config, dst); err != nil {
		return fmt.Errorf("%w: %s config: %w", ErrMalformed, s.Type, err)
	}

	return nil
}
