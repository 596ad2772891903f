// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shape

import "fmt"

// Scope classifies a dataset by the leading dimensions it must carry.
type Scope uint8

const (
	// Global datasets have no required leading dimension.
	Global Scope = iota + 1
	// Layer datasets lead with one dimension of size NumLayers.
	Layer
	// Neuron datasets lead with (NumLayers, NumNeurons).
	Neuron
)

var scopeToString = [...]string{
	Global: "global",
	Layer:  "layer",
	Neuron: "neuron",
}

// Validate returns an error if the Scope is not valid, otherwise nil.
func (s Scope) Validate() error {
	if s == 0 || s > Neuron {
		return fmt.Errorf("%w: Scope(%d)", ErrInvalidScope, s)
	}
	return nil
}

// String returns a string representation of a Scope.
func (s Scope) String() string {
	if s.Validate() != nil {
		return fmt.Sprintf("Scope(%d)", s)
	}
	return scopeToString[s]
}

// Leading returns the number of leading dimensions required by the scope,
// or -1 if the scope is invalid.
func (s Scope) Leading() int {
	switch s {
	case Global:
		return 0
	case Layer:
		return 1
	case Neuron:
		return 2
	}
	return -1
}

// MarshalText satisfies encoding.TextMarshaler interface.
func (s Scope) MarshalText() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return []byte(scopeToString[s]), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler interface.
func (s *Scope) UnmarshalText(text []byte) error {
	switch string(text) {
	case "global", "Global", "GLOBAL":
		*s = Global
	case "layer", "Layer", "LAYER":
		*s = Layer
	case "neuron", "Neuron", "NEURON":
		*s = Neuron
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScope, text)
	}
	return nil
}
