package query

import (
	"fmt"
	"strings"
)

// CompileSQL converts a predicate into a parameterized SELECT against table
// for SQLite. Values are always bound as ? parameters, never interpolated,
// and every statement carries an ORDER BY with an id tiebreaker.
//
// The timestamp column holds Unix seconds.
func CompileSQL(table, columns string, p Predicate, opts Options) (string, []any, error) {
	where, params, err := CompileWhere(p)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s ORDER BY %s", columns, table, where, orderBy(opts.Sort))
	if opts.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, opts.Limit)
		if opts.Offset > 0 {
			b.WriteString(" OFFSET ?")
			params = append(params, opts.Offset)
		}
	} else if opts.Offset > 0 {
		b.WriteString(" LIMIT -1 OFFSET ?")
		params = append(params, opts.Offset)
	}
	return b.String(), params, nil
}

// CompileCountSQL converts a predicate into a parameterized COUNT query.
func CompileCountSQL(table string, p Predicate) (string, []any, error) {
	where, params, err := CompileWhere(p)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where), params, nil
}

func orderBy(s Sort) string {
	if s == OldestFirst {
		return "timestamp ASC, id ASC"
	}
	return "timestamp DESC, id DESC"
}

// CompileWhere converts a predicate into a WHERE clause fragment.
func CompileWhere(p Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case Equals:
		if err := checkField(pred.Field); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s = ?", pred.Field), []any{pred.Value}, nil

	case ContainsFold:
		if err := checkField(pred.Field); err != nil {
			return "", nil, err
		}
		// instr avoids LIKE wildcard escaping for % and _ in user input.
		return fmt.Sprintf("instr(%s(%s), %s(?)) > 0", FoldFunc, pred.Field, FoldFunc), []any{pred.Substring}, nil

	case In:
		if err := checkField(pred.Field); err != nil {
			return "", nil, err
		}
		if len(pred.Values) == 0 {
			return "0 = 1", nil, nil
		}
		return fmt.Sprintf("%s IN (%s)", pred.Field, placeholders(len(pred.Values))), stringParams(pred.Values), nil

	case NotIn:
		if err := checkField(pred.Field); err != nil {
			return "", nil, err
		}
		if len(pred.Values) == 0 {
			return "1 = 1", nil, nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s NOT IN (%s))", pred.Field, pred.Field, placeholders(len(pred.Values))), stringParams(pred.Values), nil

	case TimeGTE:
		return "timestamp >= ?", []any{ceilSecond(pred.Time)}, nil

	case TimeLTE:
		return "timestamp <= ?", []any{floorSecond(pred.Time)}, nil

	case TimeLT:
		return "timestamp < ?", []any{ceilSecond(pred.Time)}, nil

	case And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, child := range pred.Predicates {
			sql, childParams, err := CompileWhere(child)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			params = append(params, childParams...)
		}
		return strings.Join(parts, " AND "), params, nil

	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func checkField(f Field) error {
	switch f {
	case FieldUserID, FieldAction:
		return nil
	default:
		return fmt.Errorf("unsupported field %q", f)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringParams(values []string) []any {
	params := make([]any, len(values))
	for i, v := range values {
		params[i] = v
	}
	return params
}
