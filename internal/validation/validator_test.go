package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/model"
)

func TestValidateTableID(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		name    string
		tableID string
		wantErr bool
	}{
		{"simple", "orders", false},
		{"dotted", "sales.eu-2024_v1", false},
		{"empty", "", true},
		{"slash", "a/b", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"space", "my table", true},
		{"unicode letter", "tablé", true},
		{"too long", strings.Repeat("a", MaxTableIDSize+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateTableID(tt.tableID)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateBatch(t *testing.T) {
	schema := model.Schema{Columns: []model.Column{
		{Name: "x", Type: model.ColumnTypeFloat64},
		{Name: "city", Type: model.ColumnTypeString},
	}}
	v := NewValidatorWithLimits(MaxTableIDSize, 3)

	tests := []struct {
		name     string
		batch    *model.Batch
		wantCode errors.ErrorCode
	}{
		{"valid", &model.Batch{Schema: schema, Rows: []model.Row{{1.0, "a"}}}, errors.ErrCodeOK},
		{"nil", nil, errors.ErrCodeInvalidArgument},
		{"no rows", &model.Batch{Schema: schema}, errors.ErrCodeInvalidArgument},
		{"too many rows", &model.Batch{Schema: schema, Rows: []model.Row{{1.0, "a"}, {1.0, "a"}, {1.0, "a"}, {1.0, "a"}}}, errors.ErrCodeResourceExhausted},
		{"short row", &model.Batch{Schema: schema, Rows: []model.Row{{1.0}}}, errors.ErrCodeInvalidArgument},
		{"no columns", &model.Batch{Rows: []model.Row{{}}}, errors.ErrCodeInvalidArgument},
		{
			"duplicate column",
			&model.Batch{Schema: model.Schema{Columns: []model.Column{{Name: "x", Type: model.ColumnTypeInt64}, {Name: "x", Type: model.ColumnTypeInt64}}}, Rows: []model.Row{{int64(1), int64(2)}}},
			errors.ErrCodeInvalidArgument,
		},
		{
			"unknown type",
			&model.Batch{Schema: model.Schema{Columns: []model.Column{{Name: "x", Type: "decimal"}}}, Rows: []model.Row{{1}}},
			errors.ErrCodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, errors.GetCode(v.ValidateBatch(tt.batch)))
		})
	}
}

func TestValidateSave(t *testing.T) {
	v := NewValidator()
	batch := &model.Batch{
		Schema: model.Schema{Columns: []model.Column{{Name: "x", Type: model.ColumnTypeFloat64}}},
		Rows:   []model.Row{{0.5}},
	}

	assert.NoError(t, v.ValidateSave("t1", "", batch, []string{"x"}, 100))
	assert.Error(t, v.ValidateSave("t1", "bad:id", batch, []string{"x"}, 100))
	assert.True(t, errors.IsConfiguration(v.ValidateSave("t1", "", batch, []string{"x"}, -1)))
	assert.True(t, errors.IsConfiguration(v.ValidateSave("t1", "", batch, make([]string, 25), 100)))
}

func TestSanitizeTableID(t *testing.T) {
	assert.Equal(t, "sales_eu", SanitizeTableID(" sales/eu "))
	assert.Equal(t, "my_table", SanitizeTableID("my table"))
	assert.Equal(t, "ab", SanitizeTableID("a:b"))
	assert.NoError(t, NewValidator().ValidateTableID(SanitizeTableID("x/y z")))
}
