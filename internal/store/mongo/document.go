package mongo

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/value"
)

// document is the stored shape of a log entry. Details are kept as a
// native subdocument so operators can query them from the mongo shell.
type document struct {
	ID        string    `bson:"_id"`
	Timestamp time.Time `bson:"timestamp"`
	Action    string    `bson:"action"`
	UserID    *string   `bson:"user_id"`
	Details   bson.D    `bson:"details"`
	Signature string    `bson:"signature"`
}

func toDocument(e logentry.LogEntry) (document, error) {
	details, err := objectToBSON(e.Details)
	if err != nil {
		return document{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return document{
		ID:        e.ID,
		Timestamp: e.Timestamp.UTC().Truncate(time.Second),
		Action:    e.Action,
		UserID:    e.UserID,
		Details:   details,
		Signature: e.Signature,
	}, nil
}

func fromDocument(doc document) (logentry.LogEntry, error) {
	e := logentry.LogEntry{
		ID:        doc.ID,
		Timestamp: doc.Timestamp.UTC(),
		Action:    doc.Action,
		UserID:    doc.UserID,
		Signature: doc.Signature,
	}
	v, err := fromBSON(doc.Details)
	if err != nil {
		return e, fmt.Errorf("entry %s: details: %w", doc.ID, err)
	}
	obj, ok := v.(value.Object)
	if !ok {
		return e, fmt.Errorf("entry %s: details is %T, not a document", doc.ID, v)
	}
	e.Details = obj
	return e, nil
}

func objectToBSON(obj value.Object) (bson.D, error) {
	d := make(bson.D, 0, len(obj))
	for _, k := range obj.SortedKeys() {
		v, err := toBSON(obj[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d, nil
}

func toBSON(v value.Value) (any, error) {
	switch val := v.(type) {
	case nil, value.Null:
		return nil, nil
	case value.String:
		return string(val), nil
	case value.Int:
		return int64(val), nil
	case value.Float:
		// NaN and infinities have no canonical form.
		if _, err := value.MarshalCanonical(val); err != nil {
			return nil, err
		}
		return float64(val), nil
	case value.Bool:
		return bool(val), nil
	case value.Array:
		arr := make(bson.A, len(val))
		for i, elem := range val {
			conv, err := toBSON(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case value.Object:
		return objectToBSON(val)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func fromBSON(v any) (value.Value, error) {
	switch val := v.(type) {
	case nil:
		return value.Null{}, nil
	case primitive.D:
		obj := make(value.Object, len(val))
		for _, e := range val {
			conv, err := fromBSON(e.Value)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", e.Key, err)
			}
			obj[e.Key] = conv
		}
		return obj, nil
	case primitive.M:
		obj := make(value.Object, len(val))
		for k, elem := range val {
			conv, err := fromBSON(elem)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	case primitive.A:
		arr := make(value.Array, len(val))
		for i, elem := range val {
			conv, err := fromBSON(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case primitive.Null:
		return value.Null{}, nil
	case int32:
		return value.Int(val), nil
	case int64:
		return value.Int(val), nil
	case float64, string, bool:
		return value.FromGo(val)
	default:
		return nil, fmt.Errorf("unsupported BSON type %T", v)
	}
}
