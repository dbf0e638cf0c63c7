package utf

// Row maps column names to decoded values.
type Row map[string]any

func (r Row) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// Int returns an integer column as int; missing and non-integer columns give 0.
func (r Row) Int(key string) int {
	switch v := r[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	}
	return 0
}

func (r Row) Uint64(key string) uint64 {
	switch v := r[key].(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	}
	return uint64(r.Int(key))
}

func (r Row) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Bytes returns a blob column. A blob that decoded as a nested table yields its raw bytes.
func (r Row) Bytes(key string) []byte {
	switch v := r[key].(type) {
	case []byte:
		return v
	case *Table:
		return v.Raw
	}
	return nil
}

// Table returns a blob column that decoded as a nested table, or nil.
func (r Row) Table(key string) *Table {
	t, _ := r[key].(*Table)
	return t
}

// Column looks up a schema entry by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Row returns row i or nil when out of range.
func (t *Table) Row(i int) Row {
	if t == nil || i < 0 || i >= len(t.Rows) {
		return nil
	}
	return t.Rows[i]
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}
