package catalog

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/validation"
)

// Table names a table either by storage location or by catalog name
type Table interface {
	isTable()
}

// PathTable is a table addressed by the directory holding it
type PathTable struct {
	Path string
}

// ManagedTable is a table registered under a namespace
type ManagedTable struct {
	Namespace string
	Name      string
}

func (PathTable) isTable()    {}
func (ManagedTable) isTable() {}

// TableRef is a resolved table: the id the index and log use, and where its data lives
type TableRef struct {
	ID       string
	Location string
}

// Resolver turns table names into references
type Resolver struct {
	dataDir   string
	validator *validation.Validator
}

// NewResolver creates a resolver placing managed tables under dataDir
func NewResolver(dataDir string, validator *validation.Validator) *Resolver {
	return &Resolver{dataDir: dataDir, validator: validator}
}

// Resolve maps a table name to its reference
func (r *Resolver) Resolve(t Table) (TableRef, error) {
	var ref TableRef
	switch t := t.(type) {
	case PathTable:
		clean := filepath.Clean(t.Path)
		if t.Path == "" || clean == "." || clean == string(filepath.Separator) {
			return TableRef{}, errors.InvalidArgument(fmt.Sprintf("table path %q does not name a directory", t.Path), nil)
		}
		ref = TableRef{
			ID:       validation.SanitizeTableID(strings.Trim(filepath.ToSlash(clean), "/")),
			Location: clean,
		}
	case ManagedTable:
		if t.Namespace == "" {
			ref = TableRef{ID: t.Name, Location: filepath.Join(r.dataDir, t.Name)}
		} else {
			ref = TableRef{ID: t.Namespace + "." + t.Name, Location: filepath.Join(r.dataDir, t.Namespace, t.Name)}
		}
	default:
		return TableRef{}, errors.InvalidArgument(fmt.Sprintf("unsupported table kind %T", t), nil)
	}

	if err := r.validator.ValidateTableID(ref.ID); err != nil {
		return TableRef{}, err
	}
	return ref, nil
}
