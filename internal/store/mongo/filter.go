package mongo

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/audittrail/internal/query"
)

// compileFilter converts a predicate into a BSON filter document. Bounds
// are snapped to whole seconds the same way the SQL backend does it.
func compileFilter(p query.Predicate) (bson.D, error) {
	if p == nil {
		return bson.D{}, nil
	}

	switch pred := p.(type) {
	case query.Equals:
		return bson.D{{Key: string(pred.Field), Value: pred.Value}}, nil

	case query.ContainsFold:
		re := primitive.Regex{Pattern: regexp.QuoteMeta(pred.Substring), Options: "i"}
		return bson.D{{Key: string(pred.Field), Value: re}}, nil

	case query.In:
		values := pred.Values
		if values == nil {
			values = []string{}
		}
		return bson.D{{Key: string(pred.Field), Value: bson.D{{Key: "$in", Value: values}}}}, nil

	case query.NotIn:
		values := pred.Values
		if values == nil {
			values = []string{}
		}
		return bson.D{{Key: string(pred.Field), Value: bson.D{{Key: "$nin", Value: values}}}}, nil

	case query.TimeGTE:
		return bson.D{{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: query.CeilTime(pred.Time)}}}}, nil

	case query.TimeLTE:
		return bson.D{{Key: "timestamp", Value: bson.D{{Key: "$lte", Value: query.FloorTime(pred.Time)}}}}, nil

	case query.TimeLT:
		return bson.D{{Key: "timestamp", Value: bson.D{{Key: "$lt", Value: query.CeilTime(pred.Time)}}}}, nil

	case query.And:
		switch len(pred.Predicates) {
		case 0:
			return bson.D{}, nil
		case 1:
			return compileFilter(pred.Predicates[0])
		}
		clauses := make(bson.A, 0, len(pred.Predicates))
		for _, child := range pred.Predicates {
			c, err := compileFilter(child)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, c)
		}
		return bson.D{{Key: "$and", Value: clauses}}, nil

	default:
		return nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}
