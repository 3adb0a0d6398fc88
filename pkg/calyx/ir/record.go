package ir

import (
	"errors"
	"fmt"
)

// FieldType is the declared type tag of a record field.
type FieldType string

// Field type tags.
const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeTime   FieldType = "time"
	TypeAny    FieldType = "any"
)

// DefaultNow is the runtime-computed default sentinel for "current time".
const DefaultNow = "$now"

// Reference declares a foreign-key relationship to another record's
// primary key.
type Reference struct {
	// Record is the referenced record name.
	Record string `json:"record"`
}

// Field declares one record field and its constraints.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`

	// Default fills the field when absent on create. The DefaultNow sentinel
	// resolves to the current time at write time.
	Default any `json:"default,omitempty"`

	// Unique enforces uniqueness. With an empty UniqueScope the constraint is
	// global; otherwise it holds only among rows sharing the scope field's
	// value.
	Unique      bool   `json:"unique,omitempty"`
	UniqueScope string `json:"unique_scope,omitempty"`

	// References declares a foreign key to another record's primary key.
	References *Reference `json:"references,omitempty"`
}

// Record declares a schema bound to a backing frame.
type Record struct {
	// Name identifies the record type.
	Name string `json:"name"`

	// Frame names the backing table. Defaults to Name when empty.
	Frame string `json:"frame,omitempty"`

	// Fields is the ordered field list.
	Fields []Field `json:"fields"`

	// PrimaryKey names the designated primary-key field.
	PrimaryKey string `json:"primary_key"`
}

// Sentinel errors for record configuration.
var (
	// ErrNoPrimaryKey indicates the record declares no primary-key field.
	ErrNoPrimaryKey = errors.New("record has no primary key")

	// ErrUnknownScopeField indicates a scoped-unique field references a
	// scope field that does not exist on the record.
	ErrUnknownScopeField = errors.New("scoped uniqueness references unknown scope field")
)

// FrameName returns the backing frame name, defaulting to the record name.
func (r *Record) FrameName() string {
	if r.Frame != "" {
		return r.Frame
	}
	return r.Name
}

// FieldByName returns the declared field, or nil if absent.
func (r *Record) FieldByName(name string) *Field {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i]
		}
	}
	return nil
}

// Validate checks the record's constraint configuration.
//
// A scoped-uniqueness declaration must name an existing scope field on the
// same record; absence is a configuration error raised at load time, never
// deferred to write time.
func (r *Record) Validate() error {
	if r.Name == "" {
		return errors.New("record name is required")
	}
	if r.PrimaryKey == "" {
		return fmt.Errorf("record %s: %w", r.Name, ErrNoPrimaryKey)
	}
	if r.FieldByName(r.PrimaryKey) == nil {
		return fmt.Errorf("record %s: primary key field %q not declared", r.Name, r.PrimaryKey)
	}
	for _, f := range r.Fields {
		if f.UniqueScope == "" {
			continue
		}
		if !f.Unique {
			return fmt.Errorf("record %s: field %q declares a scope without uniqueness", r.Name, f.Name)
		}
		if r.FieldByName(f.UniqueScope) == nil {
			return fmt.Errorf("record %s: field %q: %w: %q",
				r.Name, f.Name, ErrUnknownScopeField, f.UniqueScope)
		}
	}
	return nil
}
