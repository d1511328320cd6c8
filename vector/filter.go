/*
Copyright © 2024 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

package vector

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/spf13/cast"
)

// Filter is a row predicate over feature attributes, written as a
// govaluate expression such as "col1 == 1 && name != 'lake'".
type Filter struct {
	src  string
	expr *govaluate.EvaluableExpression
}

// ParseFilter compiles expr. An empty expression yields a nil Filter,
// which matches every row.
func ParseFilter(expr string) (*Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("vector: parsing filter %q: %v", expr, err)
	}
	return &Filter{src: expr, expr: e}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}

// Vars returns the attribute names the filter refers to.
func (f *Filter) Vars() []string {
	if f == nil {
		return nil
	}
	return f.expr.Vars()
}

// Check returns an error wrapping ErrUnknownAttribute if the filter refers
// to an attribute that is not in columns. Column names are matched case
// insensitively, as shapefile field names are.
func (f *Filter) Check(columns []string) error {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[strings.ToLower(c)] = true
	}
	for _, v := range f.Vars() {
		if !have[strings.ToLower(v)] {
			return fmt.Errorf("vector: filter %q: %q: %w", f.src, v, ErrUnknownAttribute)
		}
	}
	return nil
}

// Match reports whether a row with the given attributes satisfies the
// filter. A nil Filter matches everything.
func (f *Filter) Match(props map[string]interface{}) (bool, error) {
	if f == nil {
		return true, nil
	}
	params := make(map[string]interface{}, len(props))
	for _, v := range f.Vars() {
		val, ok := lookup(props, v)
		if !ok {
			return false, fmt.Errorf("vector: filter %q: %q: %w", f.src, v, ErrUnknownAttribute)
		}
		params[v] = filterValue(val)
	}
	r, err := f.expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("vector: evaluating filter %q: %v", f.src, err)
	}
	b, ok := r.(bool)
	if !ok {
		return false, fmt.Errorf("vector: filter %q evaluates to %T, not a boolean", f.src, r)
	}
	return b, nil
}

func lookup(props map[string]interface{}, name string) (interface{}, bool) {
	if v, ok := props[name]; ok {
		return v, true
	}
	for k, v := range props {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// filterValue converts numeric attribute values to float64, the only
// numeric type govaluate compares.
func filterValue(v interface{}) interface{} {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32:
		return cast.ToFloat64(v)
	case nil:
		return ""
	default:
		return v
	}
}

// Query returns the features of c that satisfy f.
func Query(c *Collection, f *Filter) (*Collection, error) {
	if f == nil {
		return c, nil
	}
	if err := f.Check(c.Columns); err != nil {
		return nil, err
	}
	o := c.like()
	for _, feat := range c.Features {
		ok, err := f.Match(feat.Properties)
		if err != nil {
			return nil, err
		}
		if ok {
			o.Features = append(o.Features, feat.clone(nil))
		}
	}
	return o, nil
}
