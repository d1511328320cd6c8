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
	"errors"
	"fmt"
)

var (
	// ErrUnknownAttribute is returned when a filter or column selection
	// refers to an attribute that the data does not have.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrUnsupportedGeometry is returned for geometry types that cannot be
	// converted or written.
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")

	// ErrEmptyOperand is returned by Overlay when either operand is empty.
	ErrEmptyOperand = errors.New("overlay operand is empty")

	// ErrUnsupportedFormat is returned by Read for file types it cannot decode.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrInvalidGeometry is returned for invalid geometries when repairing
	// them is not allowed.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrUnknownCRS is returned when a spatial reference has to be written
	// but was not created by ParseCRS.
	ErrUnknownCRS = errors.New("spatial reference without definition")
)

// catch converts a panic raised by the GEOS bindings during operation op
// into an error stored in err.
func catch(op string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(error); ok {
		*err = fmt.Errorf("vector: %s: %w", op, e)
		return
	}
	*err = fmt.Errorf("vector: %s: %v", op, r)
}
