package model

import (
	"encoding/json"
	"fmt"
)

// ValueKind tags the shape of a Value.
type ValueKind int

const (
	KindText ValueKind = iota
	KindNumber
	KindDate
	KindBool
	KindArray
	KindObject
	KindNull
)

// Value is the tagged union extracted fields are stored as, replacing the
// dynamic field-bag pattern with an explicit closed type. It serializes to
// and from the MetadataStore as canonical JSON text.
type Value struct {
	Kind   ValueKind
	Text   string
	Number float64
	Bool   bool
	Array  []Value
	Object map[string]Value
}

func Text(s string) Value   { return Value{Kind: KindText, Text: s} }
func Number(n float64) Value { return Value{Kind: KindNumber, Number: n} }
func Date(s string) Value   { return Value{Kind: KindDate, Text: s} }
func Bool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Array(v ...Value) Value {
	return Value{Kind: KindArray, Array: v}
}
func Object(m map[string]Value) Value { return Value{Kind: KindObject, Object: m} }
func Null() Value                     { return Value{Kind: KindNull} }

// NA is the sentinel used by the merge stage for missing required fields.
func NA() Value { return Value{Kind: KindText, Text: "N/A"} }

func (v Value) IsNA() bool { return v.Kind == KindText && v.Text == "N/A" }

// String renders a Value the way a spreadsheet cell or template column would.
func (v Value) String() string {
	switch v.Kind {
	case KindText, KindDate:
		return v.Text
	case KindNumber:
		return fmt.Sprintf("%g", v.Number)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindArray, KindObject:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

type jsonValue struct {
	Kind   string           `json:"kind"`
	Text   string           `json:"text,omitempty"`
	Number float64          `json:"number,omitempty"`
	Bool   bool             `json:"bool,omitempty"`
	Array  []Value          `json:"array,omitempty"`
	Object map[string]Value `json:"object,omitempty"`
}

var kindNames = map[ValueKind]string{
	KindText: "text", KindNumber: "number", KindDate: "date",
	KindBool: "bool", KindArray: "array", KindObject: "object", KindNull: "null",
}

var namesToKind = map[string]ValueKind{
	"text": KindText, "number": KindNumber, "date": KindDate,
	"bool": KindBool, "array": KindArray, "object": KindObject, "null": KindNull,
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonValue{
		Kind: kindNames[v.Kind], Text: v.Text, Number: v.Number,
		Bool: v.Bool, Array: v.Array, Object: v.Object,
	})
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(b, &jv); err != nil {
		return err
	}
	kind, ok := namesToKind[jv.Kind]
	if !ok {
		return fmt.Errorf("value: unknown kind %q", jv.Kind)
	}
	v.Kind = kind
	v.Text = jv.Text
	v.Number = jv.Number
	v.Bool = jv.Bool
	v.Array = jv.Array
	v.Object = jv.Object
	return nil
}

// FieldMap is the extracted-fields / confidence-scores mapping shape used
// throughout the engine, keyed by field name.
type FieldMap map[string]Value

func (f FieldMap) MarshalBinary() ([]byte, error)  { return json.Marshal(f) }
func (f *FieldMap) UnmarshalBinary(b []byte) error { return json.Unmarshal(b, f) }
