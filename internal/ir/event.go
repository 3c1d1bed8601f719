package ir

import (
	"errors"
	"fmt"
)

// ErrMalformedEvent is returned when a value cannot be read as an event vector.
var ErrMalformedEvent = errors.New("malformed event")

// Event is a dispatched message: an id plus positional payload.
// Its wire form is the vector [id, payload...].
type Event struct {
	ID      string
	Payload IRArray
}

// NewEvent builds an event from an id and payload values.
func NewEvent(id string, payload ...IRValue) Event {
	return Event{ID: id, Payload: IRArray(payload)}
}

// ParseEvent reads an event vector. The first element must be a non-empty
// IRString; anything else is malformed.
func ParseEvent(v IRValue) (Event, error) {
	arr, ok := v.(IRArray)
	if !ok {
		return Event{}, fmt.Errorf("%w: expected array, got %s", ErrMalformedEvent, TypeName(v))
	}
	if len(arr) == 0 {
		return Event{}, fmt.Errorf("%w: empty vector", ErrMalformedEvent)
	}
	id, ok := arr[0].(IRString)
	if !ok || id == "" {
		return Event{}, fmt.Errorf("%w: first element must be a non-empty string", ErrMalformedEvent)
	}
	payload := make(IRArray, len(arr)-1)
	copy(payload, arr[1:])
	return Event{ID: string(id), Payload: payload}, nil
}

// ParseEventJSON decodes a JSON event vector such as ["add-todo","milk"].
func ParseEventJSON(s string) (Event, error) {
	v, err := UnmarshalIRValue([]byte(s))
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ParseEvent(v)
}

// Validate reports whether the event is well-formed.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrMalformedEvent)
	}
	return nil
}

// Vector returns the event in its [id, payload...] form.
func (e Event) Vector() IRArray {
	out := make(IRArray, 0, len(e.Payload)+1)
	out = append(out, IRString(e.ID))
	return append(out, e.Payload...)
}

// Arg returns the payload element at i, or IRNull when out of range.
func (e Event) Arg(i int) IRValue {
	if i < 0 || i >= len(e.Payload) {
		return IRNull{}
	}
	return e.Payload[i]
}

// String renders the event as canonical JSON.
func (e Event) String() string {
	return string(MustMarshalCanonical(e.Vector()))
}

// TypeName returns a short name for v's type, used in error messages.
func TypeName(v IRValue) string {
	switch v.(type) {
	case nil, IRNull:
		return "null"
	case IRString:
		return "string"
	case IRInt:
		return "int"
	case IRBool:
		return "bool"
	case IRArray:
		return "array"
	case IRObject:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// MarshalJSON encodes the event as its canonical vector.
func (e Event) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(e.Vector())
}

// UnmarshalJSON decodes an event vector.
func (e *Event) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalIRValue(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev, err := ParseEvent(v)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}
