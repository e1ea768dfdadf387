package model

import (
	"bytes"
	"encoding/json"
)

type triState uint8

const (
	triAbsent triState = iota
	triNull
	triValue
)

// Tri is a tri-state update field. The zero value is Absent, meaning "leave
// the stored value alone". Null means "clear the stored value" and a value
// means "overwrite it".
//
// When decoded from JSON, a missing member stays Absent, an explicit null
// becomes Null and anything else is decoded into the value.
type Tri[T any] struct {
	state triState
	value T
}

// Absent returns a Tri that leaves the field untouched.
func Absent[T any]() Tri[T] { return Tri[T]{} }

// Null returns a Tri that clears the field.
func Null[T any]() Tri[T] { return Tri[T]{state: triNull} }

// Set returns a Tri that overwrites the field with v.
func Set[T any](v T) Tri[T] { return Tri[T]{state: triValue, value: v} }

// FromPtr returns Null for a nil pointer and Set(*p) otherwise.
func FromPtr[T any](p *T) Tri[T] {
	if p == nil {
		return Null[T]()
	}
	return Set(*p)
}

func (t Tri[T]) IsAbsent() bool { return t.state == triAbsent }
func (t Tri[T]) IsNull() bool   { return t.state == triNull }
func (t Tri[T]) IsSet() bool    { return t.state == triValue }

// Present reports whether the field was supplied at all, as null or as a value.
func (t Tri[T]) Present() bool { return t.state != triAbsent }

// Get returns the value and whether one was set.
func (t Tri[T]) Get() (T, bool) {
	return t.value, t.state == triValue
}

// Ptr returns a pointer to the value, or nil unless the field is Set.
func (t Tri[T]) Ptr() *T {
	if t.state != triValue {
		return nil
	}
	v := t.value
	return &v
}

func (t *Tri[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		var zero T
		t.state, t.value = triNull, zero
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	t.state, t.value = triValue, v
	return nil
}

// MarshalJSON encodes Null and Absent as null. Use omitzero on the field to
// drop Absent members entirely.
func (t Tri[T]) MarshalJSON() ([]byte, error) {
	if t.state != triValue {
		return []byte("null"), nil
	}
	return json.Marshal(t.value)
}

// IsZero reports whether t is Absent, for the omitzero struct tag option.
func (t Tri[T]) IsZero() bool { return t.state == triAbsent }
