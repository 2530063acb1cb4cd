package models

import "encoding/json"

// OptionalString distinguishes an omitted JSON field from an explicit null.
// The zero value means "field absent"; Set with a nil Value means the client
// explicitly cleared the field.
type OptionalString struct {
	Set   bool
	Value *string
}

// OptionalStringOf returns a present OptionalString holding v.
func OptionalStringOf(v string) OptionalString {
	return OptionalString{Set: true, Value: &v}
}

// OptionalStringNull returns a present OptionalString holding an explicit
// null.
func OptionalStringNull() OptionalString {
	return OptionalString{Set: true}
}

func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

func (o OptionalString) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Value)
}

// IsZero makes omitzero-tagged fields disappear when the field was never
// supplied.
func (o OptionalString) IsZero() bool {
	return !o.Set
}
