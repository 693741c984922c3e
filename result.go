package asyncmysql

import "github.com/asyncmysql/asyncmysql/internal/packet"

// ColumnDefinition is the metadata record for one result-set column.
type ColumnDefinition = packet.ColumnDefinition

// ResultSet is an ordered sequence of rows with their column metadata.
type ResultSet struct {
	Columns []*ColumnDefinition
	Rows    [][]any
}

// ColumnIndex returns the index of the named column, or -1.
func (rs *ResultSet) ColumnIndex(name string) int {
	for i, c := range rs.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Get returns the value at (row, col), or nil when out of range.
func (rs *ResultSet) Get(row, col int) any {
	if row < 0 || row >= len(rs.Rows) {
		return nil
	}
	r := rs.Rows[row]
	if col < 0 || col >= len(r) {
		return nil
	}
	return r[col]
}

// QueryResult is the outcome of one query or prepared statement.
type QueryResult struct {
	AffectedRows int64
	Message      string

	// LastInsertID is -1 when the statement produced a result set
	// rather than an insert id.
	LastInsertID int64

	StatusFlags uint16
	Warnings    uint16

	// Rows is nil for statements that complete with a bare OK.
	Rows *ResultSet
}
