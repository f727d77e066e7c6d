package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConnection    = errors.New("warehouse_unreachable")
	ErrSchema        = errors.New("missing_required_columns")
	ErrMalformedDate = errors.New("malformed_date")
	ErrUnknownPlan   = errors.New("unknown_plan")
	ErrInvalidState  = errors.New("invalid_loader_state")
	ErrFactOverlap   = errors.New("fact_window_overlap")
)

// SchemaError reports required columns absent from a table.
type SchemaError struct {
	Table   string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s missing columns: [%s]", e.Table, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// MalformedDateError reports a date cell that could not be parsed. Row is
// the zero-based input position, or -1 when the field itself is unknown.
type MalformedDateError struct {
	Table string
	Field string
	Row   int
	Value string
	Err   error
}

func (e *MalformedDateError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("%s.%s: no such date field", e.Table, e.Field)
	}
	if e.Value == "" {
		return fmt.Sprintf("%s.%s row %d: missing date", e.Table, e.Field, e.Row)
	}
	return fmt.Sprintf("%s.%s row %d: cannot parse %q as date", e.Table, e.Field, e.Row, e.Value)
}

func (e *MalformedDateError) Is(target error) bool { return target == ErrMalformedDate }

func (e *MalformedDateError) Unwrap() error { return e.Err }

// UnknownPlanError reports a plan id missing from the pricing table.
type UnknownPlanError struct {
	PlanID string
}

func (e *UnknownPlanError) Error() string {
	return fmt.Sprintf("unknown plan %q", e.PlanID)
}

func (e *UnknownPlanError) Is(target error) bool { return target == ErrUnknownPlan }

// ConnectionError wraps the driver error raised while acquiring the warehouse.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("warehouse connection failed: %v", e.Err)
}

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

func (e *ConnectionError) Unwrap() error { return e.Err }
