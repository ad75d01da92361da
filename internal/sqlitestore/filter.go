package sqlitestore

import (
	"fmt"
	"strings"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/query"
)

// compileFilter converts a query.Predicate into a WHERE fragment over the
// documents table. Returns (sql, params, error).
//
// CRITICAL: values and JSON paths are always bound as parameters.
func compileFilter(p query.Predicate) (string, []any, error) {
	if err := query.Validate(p); err != nil {
		return "", nil, err
	}
	return compilePredicate(p)
}

func compilePredicate(p query.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case query.Equals:
		return compileEquals(pred)
	case query.In:
		return compileIn(pred)
	case query.IDIn:
		return compileIDIn(pred)
	case query.NameFold:
		path := jsonPath(pred.Field)
		return "(json_type(body, ?) = 'text' AND casefold(json_extract(body, ?)) = ?)",
			[]any{path, path, query.Fold(pred.Value)}, nil
	case query.Exists:
		return "coalesce(json_type(body, ?), 'null') != 'null'", []any{jsonPath(pred.Field)}, nil
	case query.And:
		return compileAnd(pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals matches scalars with json_extract and composites by their
// minified JSON text. Null compares on json_type.
func compileEquals(eq query.Equals) (string, []any, error) {
	path := jsonPath(eq.Field)
	switch v := eq.Value.(type) {
	case doc.Null:
		return "json_type(body, ?) = 'null'", []any{path}, nil
	case doc.Array, doc.Object:
		text, err := doc.MarshalValue(v)
		if err != nil {
			return "", nil, fmt.Errorf("convert value: %w", err)
		}
		return "json_extract(body, ?) = json(?)", []any{path, string(text)}, nil
	default:
		param, err := valueToParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("convert value: %w", err)
		}
		return "(json_type(body, ?) = ? AND json_extract(body, ?) = ?)",
			[]any{path, jsonType(v), path, param}, nil
	}
}

func compileIn(in query.In) (string, []any, error) {
	if len(in.Values) == 0 {
		return "0 = 1", nil, nil
	}
	parts := make([]string, 0, len(in.Values))
	var params []any
	for _, v := range in.Values {
		sql, p, err := compileEquals(query.Equals{Field: in.Field, Value: v})
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	return "(" + strings.Join(parts, " OR ") + ")", params, nil
}

func compileIDIn(in query.IDIn) (string, []any, error) {
	if len(in.IDs) == 0 {
		return "0 = 1", nil, nil
	}
	placeholders := make([]string, len(in.IDs))
	params := make([]any, len(in.IDs))
	for i, id := range in.IDs {
		placeholders[i] = "?"
		params[i] = id.String()
	}
	return "id IN (" + strings.Join(placeholders, ", ") + ")", params, nil
}

// compileAnd compiles an And predicate to a conjunction.
func compileAnd(and query.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var parts []string
	var params []any
	for _, pred := range and.Predicates {
		sql, p, err := compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}

func jsonPath(field string) string {
	return `$."` + field + `"`
}

// jsonType returns the json_type() name SQLite reports for v.
func jsonType(v doc.Value) string {
	switch val := v.(type) {
	case doc.String:
		return "text"
	case doc.Int:
		return "integer"
	case doc.Float:
		return "real"
	case doc.Bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// valueToParam converts a scalar doc.Value to a Go native SQL parameter.
func valueToParam(v doc.Value) (any, error) {
	switch val := v.(type) {
	case doc.String:
		return string(val), nil
	case doc.Int:
		return int64(val), nil
	case doc.Float:
		return float64(val), nil
	case doc.Bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}
