package asyncmysql

import (
	"github.com/asyncmysql/asyncmysql/internal/packet"
)

// accumulator assembles column definitions and rows into a ResultSet.
// It is driven one server packet at a time by the connection core and
// emits exactly one terminal event per command.
type accumulator struct {
	binary   bool
	expected int
	colsDone bool
	columns  []*packet.ColumnDefinition
	rows     [][]any
}

func newAccumulator(columnCount int, binary bool) *accumulator {
	return &accumulator{
		binary:   binary,
		expected: columnCount,
		columns:  make([]*packet.ColumnDefinition, 0, columnCount),
	}
}

// column consumes one ColumnDefinition packet.
func (a *accumulator) column(payload []byte) error {
	col, err := packet.ParseColumnDefinition(payload)
	if err != nil {
		return err
	}
	a.columns = append(a.columns, col)
	return nil
}

// row consumes one row packet, decoding it against the column types.
func (a *accumulator) row(payload []byte) error {
	var (
		row []any
		err error
	)
	if a.binary {
		row, err = packet.DecodeBinaryRow(payload, a.columns)
	} else {
		row, err = packet.DecodeTextRow(payload, a.columns)
	}
	if err != nil {
		return err
	}
	a.rows = append(a.rows, row)
	return nil
}

// result builds the terminal QueryResult from the final EOF.
func (a *accumulator) result(eof *packet.EOF) *QueryResult {
	return &QueryResult{
		AffectedRows: int64(len(a.rows)),
		LastInsertID: -1,
		StatusFlags:  eof.StatusFlags,
		Warnings:     eof.Warnings,
		Rows: &ResultSet{
			Columns: a.columns,
			Rows:    a.rows,
		},
	}
}
