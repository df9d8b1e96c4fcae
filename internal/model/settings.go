package model

import (
	"bytes"
	"encoding/json"
)

// Optional is a value that is either present or absent.
//
// PARTIAL UPDATES:
// A plain string can't tell "theme was not sent" apart from "theme was sent
// empty". Optional carries that bit explicitly so an update only touches the
// fields the caller actually supplied.
//
// When decoding JSON, a missing key leaves Set false. A JSON null is treated
// the same as a missing key.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// SettingsUpdate is a self-service preference patch.
type SettingsUpdate struct {
	Language Optional[string] `json:"language"`
	Theme    Optional[string] `json:"theme"`
}

// IsEmpty reports whether the update changes nothing.
func (u SettingsUpdate) IsEmpty() bool {
	return !u.Language.Set && !u.Theme.Set
}
