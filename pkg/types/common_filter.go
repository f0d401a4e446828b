package types

import (
	"fmt"
	"strings"

	"gorm.io/gorm/clause"
)

type CommonFilterOperator string

const (
	CommonFilterOperatorEq        CommonFilterOperator = "eq"
	CommonFilterOperatorNotEq     CommonFilterOperator = "not_eq"
	CommonFilterOperatorLt        CommonFilterOperator = "lt"
	CommonFilterOperatorLte       CommonFilterOperator = "lte"
	CommonFilterOperatorGt        CommonFilterOperator = "gt"
	CommonFilterOperatorGte       CommonFilterOperator = "gte"
	CommonFilterOperatorDateRange CommonFilterOperator = "date_range"
	CommonFilterOperatorRange     CommonFilterOperator = "range"
	CommonFilterOperatorIn        CommonFilterOperator = "in"
	CommonFilterOperatorLike      CommonFilterOperator = "like"
	CommonFilterOperatorNotNull   CommonFilterOperator = "not_null"
	CommonFilterOperatorIsNull    CommonFilterOperator = "is_null"
)

type CommonFilter struct {
	Field    string               `json:"field"`
	Operator CommonFilterOperator `json:"operator"`
	Values   []any                `json:"values"`
	Filters  []CommonFilter       `json:"filters"`
}

// Build constructs a GORM expression.
func (f *CommonFilter) Build(builder clause.Builder) {
	switch f.Operator {
	case CommonFilterOperatorNotNull:
		clause.Expr{SQL: "? IS NOT NULL", Vars: []interface{}{clause.Column{Name: f.Field}}}.Build(builder)
		return
	case CommonFilterOperatorIsNull:
		clause.Expr{SQL: "? IS NULL", Vars: []interface{}{clause.Column{Name: f.Field}}}.Build(builder)
		return
	}
	if len(f.Values) == 0 {
		return
	}

	value := f.Values[0]

	switch f.Operator {
	case CommonFilterOperatorEq:
		// Handle JSON operator fields (containing -> or ->> operators)
		if strings.Contains(f.Field, "->") {
			// Use raw SQL expression for JSON operators
			clause.Expr{SQL: fmt.Sprintf("%s = ?", f.Field), Vars: []interface{}{value}}.Build(builder)
		} else {
			// Use standard equality for regular fields
			clause.Eq{Column: f.Field, Value: value}.Build(builder)
		}
	case CommonFilterOperatorNotEq:
		clause.NotConditions{Exprs: []clause.Expression{clause.Eq{Column: f.Field, Value: value}}}.Build(builder)
	case CommonFilterOperatorLt:
		clause.Lt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorLte:
		clause.Lte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGt:
		clause.Gt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGte:
		clause.Gte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorRange:
		if len(f.Values) < 2 {
			return
		}

		clause.And(clause.Gte{Column: f.Field, Value: f.Values[0]}, clause.Lte{Column: f.Field, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorIn:
		clause.IN{Column: f.Field, Values: f.Values}.Build(builder)
	case CommonFilterOperatorLike:
		clause.Like{Column: f.Field, Value: fmt.Sprintf("%%%v%%", value)}.Build(builder)
	case CommonFilterOperatorDateRange:
		// [from, until): until is exclusive so callers can pass the day after the last one wanted.
		if len(f.Values) < 2 {
			return
		}
		var exprs []clause.Expression
		if f.Values[0] != nil {
			exprs = append(exprs, clause.Gte{Column: f.Field, Value: f.Values[0]})
		}
		if f.Values[1] != nil {
			exprs = append(exprs, clause.Lt{Column: f.Field, Value: f.Values[1]})
		}
		if len(exprs) == 0 {
			return
		}
		clause.And(exprs...).Build(builder)
	default:
		return
	}
}

func (f *CommonFilter) isEmpty() bool {
	if f == nil {
		return true
	}
	switch f.Operator {
	case CommonFilterOperatorNotNull, CommonFilterOperatorIsNull:
		return false
	case CommonFilterOperatorDateRange:
		return len(f.Values) < 2 || (f.Values[0] == nil && f.Values[1] == nil)
	}
	return len(f.Values) == 0
}

// NewFilter is a shorthand for a single-field filter.
func NewFilter(field string, op CommonFilterOperator, values ...any) *CommonFilter {
	return &CommonFilter{Field: field, Operator: op, Values: values}
}

// FiltersAnd combines filters into a single expression. Empty filters yield 1=1.
type FiltersAnd []*CommonFilter

func (w FiltersAnd) Build(builder clause.Builder) {
	exprs := make([]clause.Expression, 0, len(w))
	for _, f := range w {
		if f.isEmpty() {
			continue
		}
		exprs = append(exprs, f)
	}
	if len(exprs) == 0 {
		builder.WriteString("1=1")
		return
	}
	clause.And(exprs...).Build(builder)
}
