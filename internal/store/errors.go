package store

import "fmt"

// ConfigError reports a missing required parameter or a malformed
// configuration/query/mapping specifier.
type ConfigError struct {
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("config: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// NewConfigError builds a ConfigError with no wrapped cause.
func NewConfigError(reason string) error {
	return &ConfigError{Reason: reason}
}

// SchemaError reports an unknown unit type, unknown feature, or a
// feature redefined with a conflicting value type.
type SchemaError struct {
	Reason string
	Cause  error
}

func (e *SchemaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("schema: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("schema: %s", e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

func NewSchemaError(reason string) error {
	return &SchemaError{Reason: reason}
}

// TypeMismatch reports a value whose runtime type disagrees with the
// feature definition it is being written against.
type TypeMismatch struct {
	Feature   string
	ValueType ValueType
	Got       any
}

func (e *TypeMismatch) Error() string {
	return fmt.Sprintf("type mismatch: feature %q expects %s, got %T", e.Feature, e.ValueType, e.Got)
}

// MissingUnit reports a reference to a unit id that does not exist.
type MissingUnit struct {
	UnitID int64
}

func (e *MissingUnit) Error() string {
	return fmt.Sprintf("unit %d does not exist", e.UnitID)
}

// ReaderError reports a per-block fatal condition seen by a staging
// buffer or format reader; it does not abort the overall process, only
// the block in progress.
type ReaderError struct {
	Location string
	Reason   string
	Cause    error
}

func (e *ReaderError) Error() string {
	prefix := e.Location
	if prefix != "" {
		prefix += ": "
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s%s: %v", prefix, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s%s", prefix, e.Reason)
}

func (e *ReaderError) Unwrap() error { return e.Cause }

// QueryParseError reports a textual query mini-language parsing
// fault; it carries the 1-indexed line on which the fault occurred.
type QueryParseError struct {
	Line   int
	Reason string
}

func (e *QueryParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return e.Reason
}

// QueryCompileError reports a query that references a feature or type
// the store does not recognise after mapping, or an operator
// intentionally left unimplemented (e.g. reference-feature value
// comparison).
type QueryCompileError struct {
	Reason string
	Cause  error
}

func (e *QueryCompileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("query compile: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("query compile: %s", e.Reason)
}

func (e *QueryCompileError) Unwrap() error { return e.Cause }

func NewQueryCompileError(reason string) error {
	return &QueryCompileError{Reason: reason}
}

// TransformError reports a transformation command that references an
// unbound match name or carries an illegal parameter. transform.Apply
// stops at the first such error and returns it, which rolls back the
// whole run's transaction; there is no per-match recovery.
type TransformError struct {
	Command string
	Reason  string
	Cause   error
}

func (e *TransformError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transform %s: %s: %v", e.Command, e.Reason, e.Cause)
	}
	return fmt.Sprintf("transform %s: %s", e.Command, e.Reason)
}

func (e *TransformError) Unwrap() error { return e.Cause }
