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

package eligibilityutil

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/eligibility"
	"github.com/spatialmodel/eligibility/internal/fetch"
	"github.com/spatialmodel/eligibility/internal/metrics"
	"github.com/spatialmodel/eligibility/vector"
)

var (
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
)

// Run runs the analysis defined by cfg, writes its outputs to
// eligibleOut and restrictedOut and prints a summary to w. Empty output
// paths are skipped. rec may be nil.
func Run(ctx context.Context, cfg eligibility.Config, log logrus.FieldLogger, rec *metrics.Recorder, eligibleOut, restrictedOut string, w io.Writer) (*eligibility.Result, error) {
	a, err := eligibility.NewAnalysis(cfg)
	if err != nil {
		return nil, err
	}
	a.Log = log
	a.Metrics = rec
	res, err := a.Run(ctx)
	if err != nil {
		return nil, err
	}

	u := new(fetch.Uploader)
	for _, out := range []struct {
		path string
		c    *vector.Collection
	}{
		{eligibleOut, res.Eligible},
		{restrictedOut, res.EligibleWithRestriction},
	} {
		if out.path == "" {
			continue
		}
		local, err := u.Stage(out.path)
		if err != nil {
			return res, err
		}
		if err := vector.Write(local, out.c); err != nil {
			return res, fmt.Errorf("eligibilityutil: writing %s: %w", out.path, err)
		}
		log.WithFields(logrus.Fields{
			"path":     out.path,
			"features": out.c.Len(),
		}).Info("eligibility wrote output")
	}
	if err := u.Upload(ctx); err != nil {
		return res, err
	}
	printSummary(w, res, eligibleOut, restrictedOut)
	return res, nil
}

// printSummary prints the outputs and diagnostics of res.
func printSummary(w io.Writer, res *eligibility.Result, eligibleOut, restrictedOut string) {
	fmt.Fprintln(w)
	headerColor.Fprintf(w, "eligibility run %s\n", res.RunID)
	row := func(label string, c *vector.Collection, path string) {
		labelColor.Fprintf(w, "  %s: ", label)
		fmt.Fprintf(w, "%d polygons, area %.6g", c.Len(), c.Area())
		if path != "" {
			fmt.Fprintf(w, " -> %s", path)
		}
		fmt.Fprintln(w)
	}
	row("eligible", res.Eligible, eligibleOut)
	row("eligible with restriction", res.EligibleWithRestriction, restrictedOut)
	if len(res.Diagnostics) == 0 {
		successColor.Fprintln(w, "  no diagnostics")
		return
	}
	for _, d := range res.Diagnostics {
		warningColor.Fprintf(w, "  ! %s\n", d)
	}
}
