// Command swarm-safety runs one CBF-filtered formation-control
// simulation, records the resulting series to sqlite, and optionally
// exports CSV tables, renders PNG charts, or serves the review UI.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/swarm.safety/internal/cbf"
	"github.com/banshee-data/swarm.safety/internal/config"
	"github.com/banshee-data/swarm.safety/internal/export"
	"github.com/banshee-data/swarm.safety/internal/graph"
	"github.com/banshee-data/swarm.safety/internal/monitor"
	"github.com/banshee-data/swarm.safety/internal/plot"
	"github.com/banshee-data/swarm.safety/internal/sim"
	"github.com/banshee-data/swarm.safety/internal/simdb"
	"github.com/banshee-data/swarm.safety/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON run configuration (default: built-in reference run)")
	dbPath      = flag.String("db", "swarm_runs.db", "Path to the run database")
	csvDir      = flag.String("csv", "", "Directory for CSV export of the recorded tables (empty: skip)")
	plotsDir    = flag.String("plots", "", "Directory for post-run PNG charts (empty: skip)")
	serveAddr   = flag.String("serve", "", "Serve the run review UI on this address after the run (empty: skip)")
	seed        = flag.Int64("seed", 0, "Override the configured random seed for initial placement")
	dryRun      = flag.Bool("validate-only", false, "Validate the configuration and exit")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("swarm-safety %s (commit %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		runMigrate(flag.Args()[1:])
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *dryRun {
		log.Printf("Configuration OK: %d robots, %d steps", cfg.N(), int(cfg.MaxT*float64(cfg.Freq))-1)
		return
	}

	runner, err := buildRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to assemble run: %v", err)
	}

	log.Printf("Computing evolution of the system: %d robots, %d steps at %d Hz",
		cfg.N(), runner.TotalSteps(), cfg.Freq)
	runErr := runLoop(runner)
	if runErr != nil {
		log.Printf("Run aborted: %v", runErr)
	} else {
		log.Printf("Run completed: %d steps", runner.History().Steps())
	}

	db, err := simdb.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open run database: %v", err)
	}
	defer db.Close()

	snapshot, err := cfg.Snapshot()
	if err != nil {
		log.Fatalf("Failed to snapshot config: %v", err)
	}
	runID, err := db.RecordRun(runner.History(), snapshot, cfg.Freq, runErr)
	if err != nil {
		log.Fatalf("Failed to record run: %v", err)
	}
	log.Printf("Recorded run %s", runID)

	if *csvDir != "" {
		written, err := export.WriteAll(*csvDir, db, runID)
		if err != nil {
			log.Fatalf("CSV export failed: %v", err)
		}
		log.Printf("Exported %d CSV tables to %s", len(written), *csvDir)
	}

	if *plotsDir != "" {
		region, _ := cbf.ParseRegionKind(cfg.Region)
		written, err := plot.SaveAll(*plotsDir, runner.History(), plot.Region{
			Kind: region, XMax: cfg.XMax, YMax: cfg.YMax,
		})
		if err != nil {
			log.Fatalf("Chart rendering failed: %v", err)
		}
		log.Printf("Wrote %d charts to %s", len(written), *plotsDir)
	}

	if runErr != nil && *serveAddr == "" {
		os.Exit(1)
	}
	if *serveAddr != "" {
		ws := monitor.NewWebServer(db, *serveAddr)
		if err := ws.ListenAndServe(); err != nil {
			log.Fatalf("Review server failed: %v", err)
		}
	}
}

func buildRunner(cfg *config.RunConfig) (*sim.Runner, error) {
	g, err := cfg.Graph()
	if err != nil {
		return nil, err
	}
	f, err := graph.NewFormation(cfg.Formation)
	if err != nil {
		return nil, err
	}

	params := sim.Params{Freq: cfg.Freq, MaxT: cfg.MaxT}
	builder := cbf.NewBuilder(g, cfg.ConstraintParams())
	agent := cfg.Agent(params.Samples())

	initial := cfg.Initial
	if len(initial) == 0 {
		s := cfg.Seed
		if s == 0 {
			s = time.Now().UnixNano()
			log.Printf("No seed configured; using %d", s)
		}
		initial = sim.RandomPositions(cfg.N(), cfg.XMax, s)
	}

	return sim.NewRunner(g, f, builder, agent, params, initial), nil
}

// runLoop steps the runner to completion, logging coarse progress.
func runLoop(r *sim.Runner) error {
	total := r.TotalSteps()
	lastDecile := 0
	for !r.Done() {
		if err := r.Step(); err != nil {
			return err
		}
		if decile := 10 * r.History().Steps() / total; decile != lastDecile {
			log.Printf("  progress: %d%%", decile*10)
			lastDecile = decile
		}
	}
	return nil
}

func runMigrate(args []string) {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	db, err := simdb.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open run database: %v", err)
	}
	defer db.Close()

	switch action {
	case "up":
		// Open already migrates; report the resulting version.
		fallthrough
	case "status", "version":
		version, dirty, err := db.MigrateVersion()
		if err != nil {
			log.Fatalf("Failed to read migration version: %v", err)
		}
		log.Printf("Schema version %d (dirty=%v)", version, dirty)
	default:
		fmt.Printf("Unknown migrate action: %s\n", action)
		fmt.Println("Usage: swarm-safety migrate [up|status|version]")
		os.Exit(1)
	}
}
