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

package eligibility

import (
	"errors"
	"fmt"
)

// ErrEmptyLocator is returned, wrapped in a SourceError, for an area whose
// source is an empty path or URL.
var ErrEmptyLocator = errors.New("empty locator")

// SourceError reports that the source of an area cannot be used: the
// locator cannot be fetched or decoded, the filter is malformed or refers
// to unknown attributes, or the source is of an unsupported type.
// A SourceError aborts the run.
type SourceError struct {
	// Area is the name of the area, or its position if it is unnamed.
	Area string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("eligibility: area %s: %v", e.Area, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
