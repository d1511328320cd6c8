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
	"runtime"
	"strconv"
	"strings"
	"sync"
	"weak"

	"github.com/ctessum/geom/proj"
)

// epsg holds proj4 definitions for EPSG codes commonly used for
// land-eligibility work. UTM zones are generated on demand.
var epsg = map[int]string{
	4326:  "+proj=longlat +datum=WGS84 +no_defs",
	4258:  "+proj=longlat +ellps=GRS80 +no_defs",
	3857:  "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs",
	3035:  "+proj=laea +lat_0=52 +lon_0=10 +x_0=4321000 +y_0=3210000 +ellps=GRS80 +units=m +no_defs",
	5070:  "+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +x_0=0 +y_0=0 +datum=NAD83 +units=m +no_defs",
	25832: "+proj=utm +zone=32 +ellps=GRS80 +units=m +no_defs",
	25833: "+proj=utm +zone=33 +ellps=GRS80 +units=m +no_defs",
}

// ParseCRS parses a spatial reference given as a proj4 string, a WKT
// definition, or an "EPSG:<code>" identifier for the codes in a small
// built-in table and the WGS84 UTM zones (326xx and 327xx).
func ParseCRS(def string) (*proj.SR, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		return nil, fmt.Errorf("vector: empty spatial reference")
	}
	if code, ok := epsgCode(def); ok {
		p4, err := epsgProj4(code)
		if err != nil {
			return nil, err
		}
		def = p4
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("vector: parsing spatial reference %q: %v", def, err)
	}
	definitions.Store(weak.Make(sr), def)
	runtime.AddCleanup(sr, func(k weak.Pointer[proj.SR]) { definitions.Delete(k) }, weak.Make(sr))
	return sr, nil
}

// definitions holds the proj4 or WKT text of the spatial references
// returned by ParseCRS, keyed by weak pointers to them.
var definitions sync.Map

// CRSDefinition returns the proj4 or WKT text that sr was parsed from by
// ParseCRS. "EPSG:<code>" identifiers are returned as their proj4
// definition.
func CRSDefinition(sr *proj.SR) (string, bool) {
	if sr == nil {
		return "", false
	}
	def, ok := definitions.Load(weak.Make(sr))
	if !ok {
		return "", false
	}
	return def.(string), true
}

func epsgCode(def string) (int, bool) {
	u := strings.ToUpper(def)
	if !strings.HasPrefix(u, "EPSG:") {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimPrefix(u, "EPSG:"))
	if err != nil {
		return 0, false
	}
	return code, true
}

func epsgProj4(code int) (string, error) {
	if p4, ok := epsg[code]; ok {
		return p4, nil
	}
	switch {
	case code > 32600 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600), nil
	case code > 32700 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700), nil
	}
	return "", fmt.Errorf("vector: unknown spatial reference EPSG:%d; use a proj4 or WKT definition", code)
}
