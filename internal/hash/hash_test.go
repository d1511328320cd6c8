/*
Copyright © 2019 the InMAP authors.
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
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.*/

package hash

import "testing"

type opaque struct{ n int }

func TestHash(t *testing.T) {
	type cfg struct {
		Names     []string
		Threshold float64
	}
	a := Hash(cfg{Names: []string{"a", "b"}, Threshold: 100})
	b := Hash(cfg{Names: []string{"a", "b"}, Threshold: 100})
	c := Hash(cfg{Names: []string{"b", "a"}, Threshold: 100})
	if a != b {
		t.Errorf("%s != %s", a, b)
	}
	if a == c {
		t.Errorf("different values share hash %s", a)
	}
	if len(a) != 16 {
		t.Errorf("length %d", len(a))
	}

	// gob cannot encode types without exported fields.
	if Hash(opaque{1}) == Hash(opaque{2}) {
		t.Error("fallback hash does not distinguish values")
	}
	if Hash(opaque{1}) != Hash(opaque{1}) {
		t.Error("fallback hash is not stable")
	}
}
