package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/unklstewy/drop-scope/pkg/config"
	"github.com/unklstewy/drop-scope/pkg/geo"
	"github.com/unklstewy/drop-scope/pkg/release"
)

// drop-calc computes a single release solution from the command line,
// without a telemetry link or database. Useful for mission planning and
// for sanity-checking the solver against known geometry.
func main() {
	var (
		configPath = flag.String("config", "configs/config.json", "Path to configuration file")

		acLat = flag.Float64("aircraft-lat", 0, "Aircraft latitude in decimal degrees")
		acLon = flag.Float64("aircraft-lon", 0, "Aircraft longitude in decimal degrees")
		acAlt = flag.Float64("aircraft-alt", 0, "Aircraft altitude in meters")

		tgtName = flag.String("target", "", "Named target from the config (default: active target)")
		tgtLat  = flag.Float64("target-lat", 0, "Target latitude in decimal degrees (overrides -target)")
		tgtLon  = flag.Float64("target-lon", 0, "Target longitude in decimal degrees")
		tgtAlt  = flag.Float64("target-alt", 0, "Target altitude in meters")

		airspeed    = flag.Float64("airspeed", 0, "Airspeed in m/s")
		groundspeed = flag.Float64("groundspeed", 0, "Groundspeed in m/s")

		asJSON = flag.Bool("json", false, "Print the full result as JSON")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	aircraft := geo.Position{Latitude: *acLat, Longitude: *acLon, Altitude: *acAlt}

	var target geo.Position
	var targetName string
	if *tgtLat != 0 || *tgtLon != 0 {
		target = geo.Position{Latitude: *tgtLat, Longitude: *tgtLon, Altitude: *tgtAlt}
		targetName = "ad-hoc"
	} else {
		tc := cfg.ActiveTarget()
		if *tgtName != "" {
			tc = nil
			for i := range cfg.Targets {
				if cfg.Targets[i].Name == *tgtName {
					tc = &cfg.Targets[i]
					break
				}
			}
		}
		if tc == nil {
			log.Fatalf("No target: pass -target-lat/-target-lon or configure one in %s", *configPath)
		}
		target = geo.Position{Latitude: tc.Latitude, Longitude: tc.Longitude, Altitude: tc.Altitude}
		targetName = tc.Name
	}

	speed := release.SpeedData{Airspeed: *airspeed, Groundspeed: *groundspeed}

	calc := release.NewCalculator(
		release.WithLimits(cfg.Solver.Limits),
		release.WithPayload(cfg.Solver.Payload),
	)

	result := calc.CalculateReleasePoint(aircraft, target, speed)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("Failed to encode result: %v", err)
		}
		if !result.OK() {
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Target: %s\n", targetName)
	fmt.Printf("Payload: %.2fkg, Cd %.2f, %.4fm²\n\n",
		cfg.Solver.Payload.MassKg, cfg.Solver.Payload.DragCoefficient, cfg.Solver.Payload.CrossSectionM2)

	if !result.OK() {
		fmt.Printf("No solution: %s (%s)\n", result.Message, result.Code)
		for _, w := range result.Warnings {
			fmt.Printf("Warning: %s\n", w)
		}
		os.Exit(1)
	}

	sol := result.Solution
	fmt.Printf("Release in:        %.1f s\n", sol.ReleaseTime)
	fmt.Printf("Release distance:  %.0f m before target\n", sol.ReleaseDistance)
	fmt.Printf("Payload fall time: %.1f s\n", sol.FlightTime)
	fmt.Printf("Target distance:   %.0f m\n", sol.TargetDistance)
	fmt.Printf("Target bearing:    %.1f°\n", sol.TargetBearing)
	fmt.Printf("Drop height:       %.0f m\n", sol.AltitudeDifference)
	fmt.Printf("Estimated wind:    %.1f m/s\n", sol.WindSpeed)
	for _, w := range result.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
}
