package store

import (
	"fmt"

	"github.com/roach88/audittrail/internal/value"
)

// marshalDetails converts details to canonical JSON TEXT for storage.
// Canonical form keeps the stored text stable across rewrites, such as an
// archive upsert of the same entry.
func marshalDetails(details value.Object) (string, error) {
	if details == nil {
		return "{}", nil
	}
	data, err := value.MarshalCanonical(details)
	if err != nil {
		return "", fmt.Errorf("marshal details: %w", err)
	}
	return string(data), nil
}

// unmarshalDetails parses stored details TEXT.
func unmarshalDetails(data string) (value.Object, error) {
	if data == "" || data == "{}" {
		return value.Object{}, nil
	}
	obj, err := value.ParseObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal details: %w", err)
	}
	return obj, nil
}
