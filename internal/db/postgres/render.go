package postgres

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mirulabs/dbmiru/internal/db"
)

// QuoteIdentifier quotes a schema, table or column name for safe use in
// synthesized SQL, doubling any embedded double quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualifiedTableName(schema, table string) string {
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(table)
}

// renderCell converts one driver value into its printable form.
// The second return value reports whether the cell was SQL NULL.
func renderCell(v any, oid uint32) (string, bool) {
	if v == nil {
		return db.NullCell, true
	}

	switch oid {
	case pgtype.ByteaOID:
		if b, ok := v.([]byte); ok {
			return `\x` + hex.EncodeToString(b), false
		}
	case pgtype.UUIDOID:
		if b, ok := v.([16]byte); ok {
			return uuid.UUID(b).String(), false
		}
	case pgtype.JSONOID, pgtype.JSONBOID:
		if s, err := json.Marshal(v); err == nil {
			return string(s), false
		}
	case pgtype.DateOID:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.DateOnly), false
		}
	case pgtype.TimestampOID:
		if t, ok := v.(time.Time); ok {
			return t.Format("2006-01-02 15:04:05.999999"), false
		}
	case pgtype.TimestamptzOID:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339Nano), false
		}
	}

	switch val := v.(type) {
	case string:
		return val, false
	case []byte:
		return `\x` + hex.EncodeToString(val), false
	case time.Time:
		return val.Format(time.RFC3339Nano), false
	case fmt.Stringer:
		return val.String(), false
	}
	return fmt.Sprintf("%v", v), false
}
