package mongostore

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/query"
)

func toBSONID(id doc.Identity) (any, error) {
	if id.Kind() == doc.ObjectIDKind {
		oid, err := bson.ObjectIDFromHex(id.String())
		if err != nil {
			return nil, fmt.Errorf("object id %q: %w", id, err)
		}
		return oid, nil
	}
	return id.String(), nil
}

func fromBSONID(v any) (doc.Identity, error) {
	switch id := v.(type) {
	case bson.ObjectID:
		return doc.ObjectID(id.Hex())
	case string:
		return doc.StringID(id), nil
	case int32:
		return doc.StringID(strconv.FormatInt(int64(id), 10)), nil
	case int64:
		return doc.StringID(strconv.FormatInt(id, 10)), nil
	case nil:
		return doc.Identity{}, nil
	default:
		return doc.Identity{}, fmt.Errorf("unsupported _id type %T", v)
	}
}

func toBSONDocument(d doc.Document) (bson.D, error) {
	out := bson.D{}
	if !d.ID.IsZero() {
		id, err := toBSONID(d.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, bson.E{Key: "_id", Value: id})
	}
	for _, k := range d.Fields.SortedKeys() {
		v, err := toBSONValue(d.Fields[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out = append(out, bson.E{Key: k, Value: v})
	}
	return out, nil
}

// toBSONValue converts a doc.Value into driver-native values. Objects keep
// sorted key order.
func toBSONValue(v doc.Value) (any, error) {
	switch val := v.(type) {
	case nil, doc.Null:
		return nil, nil
	case doc.String:
		return string(val), nil
	case doc.Int:
		return int64(val), nil
	case doc.Float:
		return float64(val), nil
	case doc.Bool:
		return bool(val), nil
	case doc.Array:
		out := make(bson.A, len(val))
		for i, elem := range val {
			conv, err := toBSONValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case doc.Object:
		out := make(bson.D, 0, len(val))
		for _, k := range val.SortedKeys() {
			conv, err := toBSONValue(val[k])
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			out = append(out, bson.E{Key: k, Value: conv})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func fromBSONDocument(d bson.D) (doc.Document, error) {
	var out doc.Document
	fields := make(doc.Object, len(d))
	for _, e := range d {
		if e.Key == "_id" {
			id, err := fromBSONID(e.Value)
			if err != nil {
				return doc.Document{}, err
			}
			out.ID = id
			continue
		}
		v, err := fromBSONValue(e.Value)
		if err != nil {
			return doc.Document{}, fmt.Errorf("field %q: %w", e.Key, err)
		}
		fields[e.Key] = v
	}
	out.Fields = fields
	return out, nil
}

// fromBSONValue converts decoded driver values. Doubles always become
// doc.Float so integral doubles keep their type. Store-native scalar types
// without a JSON counterpart become strings.
func fromBSONValue(v any) (doc.Value, error) {
	switch val := v.(type) {
	case nil:
		return doc.Null{}, nil
	case string:
		return doc.String(val), nil
	case bool:
		return doc.Bool(val), nil
	case int32:
		return doc.Int(val), nil
	case int64:
		return doc.Int(val), nil
	case float64:
		return doc.Float(val), nil
	case bson.ObjectID:
		return doc.String(val.Hex()), nil
	case bson.DateTime:
		return doc.String(val.Time().UTC().Format(time.RFC3339Nano)), nil
	case bson.Decimal128:
		return doc.String(val.String()), nil
	case bson.A:
		return fromBSONArray(val)
	case []any:
		return fromBSONArray(val)
	case bson.D:
		obj := make(doc.Object, len(val))
		for _, e := range val {
			conv, err := fromBSONValue(e.Value)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", e.Key, err)
			}
			obj[e.Key] = conv
		}
		return obj, nil
	case bson.M:
		obj := make(doc.Object, len(val))
		for k, elem := range val {
			conv, err := fromBSONValue(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported bson type %T", v)
	}
}

func fromBSONArray(arr []any) (doc.Value, error) {
	out := make(doc.Array, len(arr))
	for i, elem := range arr {
		conv, err := fromBSONValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		out[i] = conv
	}
	return out, nil
}

// compileFilter converts a predicate into a filter document.
//
// Differences from query.Match: MongoDB equality also matches arrays that
// contain the value, and compares numbers across int/double.
func compileFilter(p query.Predicate) (bson.D, error) {
	if err := query.Validate(p); err != nil {
		return nil, err
	}
	return compilePredicate(p)
}

func compilePredicate(p query.Predicate) (bson.D, error) {
	switch pred := p.(type) {
	case nil:
		return bson.D{}, nil
	case query.Equals:
		if _, isNull := pred.Value.(doc.Null); isNull {
			return bson.D{{Key: pred.Field, Value: bson.D{{Key: "$type", Value: "null"}}}}, nil
		}
		v, err := toBSONValue(pred.Value)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: pred.Field, Value: bson.D{{Key: "$eq", Value: v}}}}, nil
	case query.In:
		values := make(bson.A, 0, len(pred.Values))
		for _, v := range pred.Values {
			conv, err := toBSONValue(v)
			if err != nil {
				return nil, err
			}
			values = append(values, conv)
		}
		return bson.D{{Key: pred.Field, Value: bson.D{{Key: "$in", Value: values}}}}, nil
	case query.IDIn:
		ids := make(bson.A, 0, len(pred.IDs))
		for _, id := range pred.IDs {
			conv, err := toBSONID(id)
			if err != nil {
				return nil, err
			}
			ids = append(ids, conv)
		}
		return bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}, nil
	case query.NameFold:
		pattern := "^" + regexp.QuoteMeta(pred.Value) + "$"
		return bson.D{{Key: pred.Field, Value: bson.Regex{Pattern: pattern, Options: "i"}}}, nil
	case query.Exists:
		return bson.D{{Key: pred.Field, Value: bson.D{
			{Key: "$exists", Value: true},
			{Key: "$ne", Value: nil},
		}}}, nil
	case query.And:
		if len(pred.Predicates) == 0 {
			return bson.D{}, nil
		}
		parts := make(bson.A, 0, len(pred.Predicates))
		for _, sub := range pred.Predicates {
			compiled, err := compilePredicate(sub)
			if err != nil {
				return nil, err
			}
			parts = append(parts, compiled)
		}
		return bson.D{{Key: "$and", Value: parts}}, nil
	default:
		return nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}
