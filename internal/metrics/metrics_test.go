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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	r := New("test")
	r.ObserveRun("ok", time.Second)
	r.ObserveRun("error", time.Second)
	r.ObserveRun("ok", time.Second)
	r.ObserveStage("exclude", time.Millisecond)
	r.ObserveArea("eligible", 7.5)
	r.CountDiagnostic("ConfigurationConflict")

	if v := testutil.ToFloat64(r.runs.WithLabelValues("ok")); v != 2 {
		t.Errorf("ok runs: %g != 2", v)
	}
	if v := testutil.ToFloat64(r.area.WithLabelValues("eligible")); v != 7.5 {
		t.Errorf("area: %g != 7.5", v)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`eligibility_build_info{version="test"} 1`,
		`eligibility_stage_duration_seconds_count{stage="exclude"} 1`,
		`eligibility_diagnostics_total{kind="ConfigurationConflict"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in payload; got:\n%s", want, body)
		}
	}
}

func TestRecorder_nil(t *testing.T) {
	var r *Recorder
	r.ObserveRun("ok", time.Second)
	r.ObserveStage("base", time.Second)
	r.ObserveArea("eligible", 1)
	r.CountDiagnostic("MixedCRS")
}
