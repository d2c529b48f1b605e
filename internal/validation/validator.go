package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/otree/internal/cube"
	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/model"
)

const (
	// Size limits
	MaxTableIDSize    = 256
	MaxColumnNameSize = 128
	MaxBatchIDSize    = 128
	MaxBatchRows      = 10_000_000
	MaxColumns        = 1024
)

// Validator validates save requests before they reach the indexer
type Validator struct {
	maxTableIDSize int
	maxBatchRows   int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxTableIDSize: MaxTableIDSize,
		maxBatchRows:   MaxBatchRows,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxTableIDSize, maxBatchRows int) *Validator {
	return &Validator{
		maxTableIDSize: maxTableIDSize,
		maxBatchRows:   maxBatchRows,
	}
}

// ValidateSave validates one save: table, batch, and requested index columns
func (v *Validator) ValidateSave(tableID, batchID string, batch *model.Batch, columns []string, cubeSize int64) error {
	if err := v.ValidateTableID(tableID); err != nil {
		return err
	}
	if err := v.ValidateBatchID(batchID); err != nil {
		return err
	}
	if err := v.ValidateBatch(batch); err != nil {
		return err
	}
	if len(columns) > cube.MaxDimensions {
		return errors.Configuration(fmt.Sprintf("%d index columns requested, at most %d are supported", len(columns), cube.MaxDimensions))
	}
	if cubeSize < 0 {
		return errors.Configuration(fmt.Sprintf("desired cube size must be positive, got %d", cubeSize))
	}
	return nil
}

// ValidateTableID validates a table id. Ids become log keys and directory
// names, so only [A-Za-z0-9_.-] is accepted.
func (v *Validator) ValidateTableID(tableID string) error {
	if tableID == "" {
		return errors.InvalidArgument("table ID cannot be empty", nil)
	}
	if len(tableID) > v.maxTableIDSize {
		return errors.InvalidArgument(fmt.Sprintf("table ID exceeds maximum size of %d bytes", v.maxTableIDSize), nil)
	}
	if tableID == "." || tableID == ".." {
		return errors.InvalidArgument(fmt.Sprintf("table ID %q is reserved", tableID), nil)
	}
	for _, r := range tableID {
		if !isTableIDRune(r) {
			return errors.InvalidArgument(fmt.Sprintf("table ID %q contains forbidden character %q", tableID, r), nil).
				WithDetail("table_id", tableID)
		}
	}
	return nil
}

func isTableIDRune(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-')
}

// ValidateBatchID validates an optional idempotency id
func (v *Validator) ValidateBatchID(batchID string) error {
	if len(batchID) > MaxBatchIDSize {
		return errors.InvalidArgument(fmt.Sprintf("batch ID exceeds maximum size of %d bytes", MaxBatchIDSize), nil)
	}
	for _, r := range batchID {
		if unicode.IsControl(r) || r == ':' {
			return errors.InvalidArgument("batch ID cannot contain control characters or ':'", nil)
		}
	}
	return nil
}

// ValidateColumnName validates one schema column name
func (v *Validator) ValidateColumnName(name string) error {
	if name == "" {
		return errors.InvalidArgument("column name cannot be empty", nil)
	}
	if len(name) > MaxColumnNameSize {
		return errors.InvalidArgument(fmt.Sprintf("column name exceeds maximum size of %d bytes", MaxColumnNameSize), nil)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.InvalidArgument(fmt.Sprintf("column name %q contains control characters", name), nil)
		}
	}
	return nil
}

// ValidateBatch checks the schema and that every row matches its arity
func (v *Validator) ValidateBatch(batch *model.Batch) error {
	if batch == nil || batch.Len() == 0 {
		return errors.InvalidArgument("batch has no rows", nil)
	}
	if batch.Len() > v.maxBatchRows {
		return errors.ResourceExhausted("batch rows", batch.Len(), v.maxBatchRows)
	}
	if len(batch.Schema.Columns) == 0 || len(batch.Schema.Columns) > MaxColumns {
		return errors.InvalidArgument(fmt.Sprintf("schema must have between 1 and %d columns", MaxColumns), nil)
	}

	seen := make(map[string]struct{}, len(batch.Schema.Columns))
	for _, col := range batch.Schema.Columns {
		if err := v.ValidateColumnName(col.Name); err != nil {
			return err
		}
		if !col.Type.Valid() {
			return errors.InvalidArgument(fmt.Sprintf("column %q has unknown type %q", col.Name, col.Type), nil)
		}
		if _, dup := seen[col.Name]; dup {
			return errors.InvalidArgument(fmt.Sprintf("column %q appears twice in the schema", col.Name), nil)
		}
		seen[col.Name] = struct{}{}
	}

	width := len(batch.Schema.Columns)
	for i, row := range batch.Rows {
		if len(row) != width {
			return errors.InvalidArgument(fmt.Sprintf("row %d has %d values, schema has %d columns", i, len(row), width), nil).
				WithDetail("row", i)
		}
	}
	return nil
}

// SanitizeTableID maps a free-form name onto the accepted table id alphabet
func SanitizeTableID(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case isTableIDRune(r):
			return r
		case r == '/' || unicode.IsSpace(r):
			return '_'
		default:
			return -1
		}
	}, strings.TrimSpace(name))

	if len(sanitized) > MaxTableIDSize {
		sanitized = sanitized[:MaxTableIDSize]
	}
	return sanitized
}
