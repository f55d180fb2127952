package query

import (
	"slices"
	"strings"

	"github.com/roach88/audittrail/internal/logentry"
)

// FoldFunc is the SQL function name the SQLite backend registers for
// Fold. SQLite's built-in lower() only folds ASCII.
const FoldFunc = "fold"

// Fold lowercases s with full Unicode case mapping. Every backend folds
// ContainsFold operands this way.
func Fold(s string) string {
	return strings.ToLower(s)
}

// Match evaluates p against e in memory with the same semantics as the
// compiled backends.
func Match(p Predicate, e logentry.LogEntry) bool {
	if p == nil {
		return true
	}

	switch pred := p.(type) {
	case Equals:
		v, ok := fieldValue(e, pred.Field)
		return ok && v == pred.Value
	case ContainsFold:
		v, ok := fieldValue(e, pred.Field)
		return ok && strings.Contains(Fold(v), Fold(pred.Substring))
	case In:
		v, ok := fieldValue(e, pred.Field)
		return ok && slices.Contains(pred.Values, v)
	case NotIn:
		v, ok := fieldValue(e, pred.Field)
		return !ok || !slices.Contains(pred.Values, v)
	case TimeGTE:
		return !e.Timestamp.Before(pred.Time)
	case TimeLTE:
		return !e.Timestamp.After(pred.Time)
	case TimeLT:
		return e.Timestamp.Before(pred.Time)
	case And:
		for _, child := range pred.Predicates {
			if !Match(child, e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func fieldValue(e logentry.LogEntry, f Field) (string, bool) {
	switch f {
	case FieldAction:
		return e.Action, true
	case FieldUserID:
		if e.UserID == nil {
			return "", false
		}
		return *e.UserID, true
	default:
		return "", false
	}
}
