package splits

import (
	"bytes"
	"cmp"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// KeyKind is the comparison policy for one split-key column. The policy is
// chosen when chunks are planned and travels with every split, so snapshot
// readers and the binlog tail compare keys the same way. Unsupported column
// types are rejected at planning time.
type KeyKind string

const (
	KeyKindInt    KeyKind = "int"
	KeyKindUint   KeyKind = "uint"
	KeyKindFloat  KeyKind = "float"
	KeyKindString KeyKind = "string"
	KeyKindBytes  KeyKind = "bytes"
)

// KeyColumn describes one column of the split key.
type KeyColumn struct {
	Name string  `json:"name"`
	Kind KeyKind `json:"kind"`
}

// KindForDataType maps an information_schema data type to a key kind.
func KindForDataType(dataType string) (KeyKind, error) {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "year":
		return KeyKindInt, nil
	case "float", "double":
		return KeyKindFloat, nil
	case "char", "varchar", "tinytext", "text", "mediumtext", "longtext", "enum":
		return KeyKindString, nil
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		return KeyKindBytes, nil
	default:
		return "", fmt.Errorf("data type %q is not supported as a split key", dataType)
	}
}

// IsNumeric reports whether the dense-distribution fast path can plan this kind
// arithmetically.
func (k KeyKind) IsNumeric() bool {
	return k == KeyKindInt || k == KeyKindUint
}

// SplitKey is an ordered tuple of key column values in canonical form: int64,
// uint64, float64, string, or []byte per the column's KeyKind.
type SplitKey []any

// CoerceValue canonicalizes a raw driver or binlog value for the given kind.
// database/sql hands back int64 or []byte depending on the wire path, and the
// binlog decoder produces sized ints, so both funnel through here before any
// comparison.
func CoerceValue(kind KeyKind, value any) (any, error) {
	switch kind {
	case KeyKindInt:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int8:
			return int64(v), nil
		case int16:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case uint64:
			return int64(v), nil
		case uint32:
			return int64(v), nil
		case []byte:
			return strconv.ParseInt(string(v), 10, 64)
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case KeyKindUint:
		switch v := value.(type) {
		case uint64:
			return v, nil
		case uint:
			return uint64(v), nil
		case uint8:
			return uint64(v), nil
		case uint16:
			return uint64(v), nil
		case uint32:
			return uint64(v), nil
		case int64:
			if v < 0 {
				return nil, fmt.Errorf("negative value %d for unsigned key", v)
			}
			return uint64(v), nil
		case []byte:
			return strconv.ParseUint(string(v), 10, 64)
		case string:
			return strconv.ParseUint(v, 10, 64)
		}
	case KeyKindFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case []byte:
			return strconv.ParseFloat(string(v), 64)
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case KeyKindString:
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case KeyKindBytes:
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %T to key kind %q", value, kind)
}

// CoerceKey canonicalizes every component of a key.
func CoerceKey(columns []KeyColumn, values []any) (SplitKey, error) {
	if len(values) != len(columns) {
		return nil, fmt.Errorf("key has %d values, expected %d", len(values), len(columns))
	}

	key := make(SplitKey, len(values))
	for i, value := range values {
		coerced, err := CoerceValue(columns[i].Kind, value)
		if err != nil {
			return nil, fmt.Errorf("failed to coerce key column %q: %w", columns[i].Name, err)
		}
		key[i] = coerced
	}
	return key, nil
}

func compareValue(kind KeyKind, a, b any) (int, error) {
	switch kind {
	case KeyKindInt:
		av, aOk := a.(int64)
		bv, bOk := b.(int64)
		if !aOk || !bOk {
			return 0, fmt.Errorf("int key compared against %T and %T", a, b)
		}
		return cmp.Compare(av, bv), nil
	case KeyKindUint:
		av, aOk := a.(uint64)
		bv, bOk := b.(uint64)
		if !aOk || !bOk {
			return 0, fmt.Errorf("uint key compared against %T and %T", a, b)
		}
		return cmp.Compare(av, bv), nil
	case KeyKindFloat:
		av, aOk := a.(float64)
		bv, bOk := b.(float64)
		if !aOk || !bOk {
			return 0, fmt.Errorf("float key compared against %T and %T", a, b)
		}
		return cmp.Compare(av, bv), nil
	case KeyKindString:
		av, aOk := a.(string)
		bv, bOk := b.(string)
		if !aOk || !bOk {
			return 0, fmt.Errorf("string key compared against %T and %T", a, b)
		}
		return strings.Compare(av, bv), nil
	case KeyKindBytes:
		av, aOk := a.([]byte)
		bv, bOk := b.([]byte)
		if !aOk || !bOk {
			return 0, fmt.Errorf("bytes key compared against %T and %T", a, b)
		}
		return bytes.Compare(av, bv), nil
	default:
		return 0, fmt.Errorf("unknown key kind %q", kind)
	}
}

// CompareKeys orders two canonical keys componentwise.
func CompareKeys(columns []KeyColumn, a, b SplitKey) (int, error) {
	if len(a) != len(columns) || len(b) != len(columns) {
		return 0, fmt.Errorf("keys have %d and %d values, expected %d", len(a), len(b), len(columns))
	}

	for i, column := range columns {
		result, err := compareValue(column.Kind, a[i], b[i])
		if err != nil {
			return 0, err
		}
		if result != 0 {
			return result, nil
		}
	}
	return 0, nil
}

// encodeKey renders a canonical key into strings for the split wire form.
func encodeKey(columns []KeyColumn, key SplitKey) ([]string, error) {
	if key == nil {
		return nil, nil
	}
	if len(key) != len(columns) {
		return nil, fmt.Errorf("key has %d values, expected %d", len(key), len(columns))
	}

	encoded := make([]string, len(key))
	for i, column := range columns {
		switch v := key[i].(type) {
		case int64:
			encoded[i] = strconv.FormatInt(v, 10)
		case uint64:
			encoded[i] = strconv.FormatUint(v, 10)
		case float64:
			encoded[i] = strconv.FormatFloat(v, 'g', -1, 64)
		case string:
			encoded[i] = v
		case []byte:
			encoded[i] = base64.StdEncoding.EncodeToString(v)
		default:
			return nil, fmt.Errorf("key column %q holds non-canonical %T", column.Name, v)
		}
	}
	return encoded, nil
}

// decodeKey parses the wire form back into a canonical key.
func decodeKey(columns []KeyColumn, encoded []string) (SplitKey, error) {
	if encoded == nil {
		return nil, nil
	}
	if len(encoded) != len(columns) {
		return nil, fmt.Errorf("encoded key has %d values, expected %d", len(encoded), len(columns))
	}

	key := make(SplitKey, len(encoded))
	for i, column := range columns {
		switch column.Kind {
		case KeyKindInt:
			v, err := strconv.ParseInt(encoded[i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to decode key column %q: %w", column.Name, err)
			}
			key[i] = v
		case KeyKindUint:
			v, err := strconv.ParseUint(encoded[i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to decode key column %q: %w", column.Name, err)
			}
			key[i] = v
		case KeyKindFloat:
			v, err := strconv.ParseFloat(encoded[i], 64)
			if err != nil {
				return nil, fmt.Errorf("failed to decode key column %q: %w", column.Name, err)
			}
			key[i] = v
		case KeyKindString:
			key[i] = encoded[i]
		case KeyKindBytes:
			v, err := base64.StdEncoding.DecodeString(encoded[i])
			if err != nil {
				return nil, fmt.Errorf("failed to decode key column %q: %w", column.Name, err)
			}
			key[i] = v
		default:
			return nil, fmt.Errorf("unknown key kind %q", column.Kind)
		}
	}
	return key, nil
}
