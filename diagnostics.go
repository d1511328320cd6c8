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
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DiagnosticKind classifies a Diagnostic.
type DiagnosticKind string

const (
	// ConfigurationConflict means that mutually exclusive options were
	// set for an area and one of them was ignored.
	ConfigurationConflict DiagnosticKind = "ConfigurationConflict"

	// MixedCRS means that areas declare different spatial references while
	// no target spatial reference is configured, so overlays combine
	// coordinates from different systems.
	MixedCRS DiagnosticKind = "MixedCRS"
)

// Diagnostic is a non-fatal finding of a run.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Area    string         `json:"area"`
	Message string         `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: area %s: %s", d.Kind, d.Area, d.Message)
}

// diagnostics collects the diagnostics of one run. It is safe for
// concurrent use.
type diagnostics struct {
	log logrus.FieldLogger

	mu   sync.Mutex
	list []Diagnostic
}

func (d *diagnostics) add(kind DiagnosticKind, area, format string, args ...interface{}) {
	diag := Diagnostic{Kind: kind, Area: area, Message: fmt.Sprintf(format, args...)}
	d.log.WithFields(logrus.Fields{
		"kind": kind,
		"area": area,
	}).Warn(diag.Message)
	d.mu.Lock()
	d.list = append(d.list, diag)
	d.mu.Unlock()
}

func (d *diagnostics) all() []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Diagnostic(nil), d.list...)
}
