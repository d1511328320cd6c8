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

// Package eligibilityutil holds the command-line and HTTP interfaces of
// the land-eligibility analysis.
package eligibilityutil

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/eligibility"
	"github.com/spatialmodel/eligibility/internal/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to the analysis.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the location of the TOML file that defines
              the base area and the included, excluded and restricted areas.
              The scalar options below may be set in the same file.`,
			shorthand:  "c",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "SliverThreshold",
			usage: `
              SliverThreshold is the area, in squared units of the
              spatial reference, that output polygons need to exceed to be
              kept. Zero or negative values keep every polygon.`,
			defaultVal: 100.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "CRS",
			usage: `
              CRS is the spatial reference all areas are brought into, as a
              proj4 string or an "EPSG:<code>" identifier. If empty, areas
              are used in the spatial reference they come with.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "MakeValid",
			usage: `
              MakeValid specifies whether invalid geometries are repaired
              instead of causing an error.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "Concurrent",
			usage: `
              Concurrent specifies whether the included, excluded and
              restricted areas are prepared in parallel.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), serveCmd.Flags()},
		},
		{
			name: "EligibleOutput",
			usage: `
              EligibleOutput is the path of the file that the areas that
              are eligible without restriction are written to. The format
              follows the extension (.shp or .geojson); gs://, s3:// and
              file:// blob URLs are accepted.`,
			shorthand:  "o",
			defaultVal: "eligible.geojson",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "RestrictedOutput",
			usage: `
              RestrictedOutput is the path of the file that the eligible
              areas covered by restricted areas are written to.`,
			defaultVal: "eligible_with_restriction.geojson",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum level of log messages: debug, info,
              warn or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Addr",
			usage: `
              Addr is the address the HTTP server listens on.`,
			defaultVal: ":8080",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "AllowedLocators",
			usage: `
              AllowedLocators lists the prefixes that the area sources of
              posted analyses must start with, such as /data/ or
              gs://bucket/. If empty, any local path or URL is accepted.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "MetricsPath",
			usage: `
              MetricsPath is the path that Prometheus metrics are served
              under.`,
			defaultVal: "/metrics",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("ELIGIBILITY")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(serveCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and sets up logging.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("eligibility: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("LogLevel"))
	if err != nil {
		return fmt.Errorf("eligibility: LogLevel: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// pipelineOptions returns the scalar pipeline options in Cfg.
func pipelineOptions() Options {
	return Options{
		SliverThreshold: Cfg.GetFloat64("SliverThreshold"),
		CRS:             os.ExpandEnv(Cfg.GetString("CRS")),
		MakeValid:       Cfg.GetBool("MakeValid"),
		Concurrent:      Cfg.GetBool("Concurrent"),
	}
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "eligibility",
	Short: "A land-eligibility analysis.",
	Long: `eligibility derives the areas that are eligible for a land use, such as
wind or solar power plants, from a base area and lists of included, excluded
and restricted areas. Use the subcommands specified below to run an analysis
or to start an HTTP server that runs them on request.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'ELIGIBILITY_var' where 'var'
is the name of the variable to be set. Area sources in the configuration file
may contain environment variables.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of eligibility.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("eligibility v%s\n", eligibility.Version)
	},
	DisableAutoGenTag: true,
}

// runCmd runs the analysis defined in the configuration file.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an analysis.",
	Long: `run runs the analysis defined in the configuration file and writes the
eligible areas to EligibleOutput and the eligible areas with restriction
to RestrictedOutput.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgpath := Cfg.GetString("config")
		if cfgpath == "" {
			return fmt.Errorf("eligibility: an analysis configuration file needs to be specified with --config")
		}
		f, err := ReadAnalysisFile(os.ExpandEnv(cfgpath))
		if err != nil {
			return err
		}
		// Scalar options were read from the same file by Cfg, where flags
		// and environment variables take precedence over them.
		f.SliverThreshold, f.CRS, f.MakeValid, f.Concurrent = nil, nil, nil, nil
		cfg, err := f.Config(pipelineOptions())
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		_, err = Run(ctx, cfg, logrus.StandardLogger(), nil,
			os.ExpandEnv(Cfg.GetString("EligibleOutput")),
			os.ExpandEnv(Cfg.GetString("RestrictedOutput")),
			cmd.OutOrStdout())
		return err
	},
	DisableAutoGenTag: true,
}

// serveCmd starts the HTTP server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server.",
	Long: `serve starts an HTTP server that runs the analyses posted to
/v1/eligibility and returns the results as GeoJSON. The command line options
serve as defaults for the scalar options of the posted analyses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		s := &Server{
			Log:         logrus.StandardLogger(),
			Metrics:     metrics.New(eligibility.Version),
			Defaults:    pipelineOptions(),
			MetricsPath: Cfg.GetString("MetricsPath"),

			AllowedLocators: Cfg.GetStringSlice("AllowedLocators"),
		}
		return s.ListenAndServe(ctx, Cfg.GetString("Addr"))
	},
	DisableAutoGenTag: true,
}
