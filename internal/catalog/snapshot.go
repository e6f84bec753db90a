package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/pingcap/tidb/parser"
	"github.com/pingcap/tidb/parser/ast"
	_ "github.com/pingcap/tidb/parser/test_driver"

	"sql-advisor/internal/model"
)

// Snapshot is previously captured structural information: a CREATE
// TABLE dump taken while the instance was reachable. It backs the
// catalog when live metadata is not available. Index data served from
// a snapshot is always reported with ConfidenceUnknown, because a dump
// cannot confirm the current live state.
type Snapshot struct {
	tables map[string][]model.IndexDescriptor
}

// LoadSnapshot parses a schema dump file.
func LoadSnapshot(path string) (*Snapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSnapshot(string(content))
}

// ParseSnapshot parses CREATE TABLE statements into per-table index
// descriptors. Statements other than CREATE TABLE are ignored.
func ParseSnapshot(dump string) (*Snapshot, error) {
	stmts, _, err := parser.New().Parse(dump, "", "")
	if err != nil {
		return nil, fmt.Errorf("snapshot parse error: %w", err)
	}

	s := &Snapshot{tables: make(map[string][]model.IndexDescriptor)}
	for _, stmt := range stmts {
		create, ok := stmt.(*ast.CreateTableStmt)
		if !ok {
			continue
		}
		name := strings.ToLower(create.Table.Name.O)
		s.tables[name] = indexesFromCreate(create)
	}
	return s, nil
}

// Tables returns how many tables the snapshot covers.
func (s *Snapshot) Tables() int {
	return len(s.tables)
}

// Indexes returns the captured index set for table (case-insensitive).
func (s *Snapshot) Indexes(table string) ([]model.IndexDescriptor, bool) {
	idx, ok := s.tables[strings.ToLower(table)]
	return idx, ok
}

func indexesFromCreate(node *ast.CreateTableStmt) []model.IndexDescriptor {
	var out []model.IndexDescriptor
	for _, cons := range node.Constraints {
		switch cons.Tp {
		case ast.ConstraintPrimaryKey, ast.ConstraintKey, ast.ConstraintIndex, ast.ConstraintUniq, ast.ConstraintUniqKey, ast.ConstraintUniqIndex:
			idx := model.IndexDescriptor{
				Name:    cons.Name,
				Unique:  cons.Tp != ast.ConstraintKey && cons.Tp != ast.ConstraintIndex,
				Primary: cons.Tp == ast.ConstraintPrimaryKey,
			}
			if idx.Name == "" && idx.Primary {
				idx.Name = "PRIMARY"
			}
			for _, keyCol := range cons.Keys {
				idx.Columns = append(idx.Columns, keyCol.Column.Name.O)
			}
			out = append(out, idx)
		}
	}
	// Inline PRIMARY KEY / UNIQUE on column definitions.
	for _, col := range node.Cols {
		for _, opt := range col.Options {
			switch opt.Tp {
			case ast.ColumnOptionPrimaryKey:
				out = append(out, model.IndexDescriptor{
					Name:    "PRIMARY",
					Columns: []string{col.Name.Name.O},
					Unique:  true,
					Primary: true,
				})
			case ast.ColumnOptionUniqKey:
				out = append(out, model.IndexDescriptor{
					Name:    col.Name.Name.O,
					Columns: []string{col.Name.Name.O},
					Unique:  true,
				})
			}
		}
	}
	return out
}
