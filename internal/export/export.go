// Package export writes recorded run series as CSV tables with a fixed
// column schema: one Time column followed by one column pair per robot
// (Robot_x1, Robot_y1, ...) or one column per graph edge (Edge(1,2), ...).
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/swarm.safety/internal/cbf"
	"github.com/banshee-data/swarm.safety/internal/simdb"
)

func robotHeader(n int) []string {
	header := []string{"Time"}
	for i := 1; i <= n; i++ {
		header = append(header, fmt.Sprintf("Robot_x%d", i), fmt.Sprintf("Robot_y%d", i))
	}
	return header
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WritePositions writes the position table for a run.
func WritePositions(w io.Writer, db *simdb.DB, runID string) error {
	run, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	states, err := db.RobotStates(runID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(robotHeader(run.Robots)); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	// Rows arrive ordered by step then robot, run.Robots per step.
	record := make([]string, 0, 1+2*run.Robots)
	for i, s := range states {
		if s.Robot == 1 {
			record = record[:0]
			record = append(record, formatFloat(s.Time))
		}
		record = append(record, formatFloat(s.X), formatFloat(s.Y))
		if s.Robot == run.Robots {
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("export: write row %d: %w", i, err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCommands writes the nominal or filtered command table for a run.
func WriteCommands(w io.Writer, db *simdb.DB, runID string, filtered bool) error {
	run, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	commands, err := db.Commands(runID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(robotHeader(run.Robots)); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	record := make([]string, 0, 1+2*run.Robots)
	for i, c := range commands {
		if c.Robot == 1 {
			record = record[:0]
			record = append(record, formatFloat(c.Time))
		}
		if filtered {
			record = append(record, formatFloat(c.FilteredX), formatFloat(c.FilteredY))
		} else {
			record = append(record, formatFloat(c.NominalX), formatFloat(c.NominalY))
		}
		if c.Robot == run.Robots {
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("export: write row %d: %w", i, err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteConstraintValues writes the barrier-value table of one family.
// Columns follow the edge order of the first recorded step.
func WriteConstraintValues(w io.Writer, db *simdb.DB, runID string, kind cbf.Kind) error {
	values, err := db.ConstraintValues(runID, kind)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return fmt.Errorf("export: no %s values recorded for run %s", kind, runID)
	}

	// Count columns from the first step's rows.
	cols := 0
	for _, v := range values {
		if v.Step != values[0].Step {
			break
		}
		cols++
	}

	cw := csv.NewWriter(w)
	header := []string{"Time"}
	for _, v := range values[:cols] {
		header = append(header, fmt.Sprintf("Edge(%d,%d)", v.I, v.J))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}

	record := make([]string, 0, 1+cols)
	for i, v := range values {
		if i%cols == 0 {
			record = record[:0]
			record = append(record, formatFloat(v.Time))
		}
		record = append(record, formatFloat(v.H))
		if i%cols == cols-1 {
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("export: write row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAgentStates writes the exogenous agent's table for a run.
func WriteAgentStates(w io.Writer, db *simdb.DB, runID string) error {
	states, err := db.AgentStates(runID)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		return fmt.Errorf("export: no agent states recorded for run %s", runID)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Time", "Agent_x", "Agent_y", "Agent_vx", "Agent_vy"}); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, s := range states {
		record := []string{formatFloat(s.Time), "", "", "", ""}
		if s.X.Valid {
			record[1] = formatFloat(s.X.Float64)
			record[2] = formatFloat(s.Y.Float64)
		}
		if s.VX.Valid {
			record[3] = formatFloat(s.VX.Float64)
			record[4] = formatFloat(s.VY.Float64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAll writes every available table for a run into dir, one CSV per
// table, and returns the paths written.
func WriteAll(dir string, db *simdb.DB, runID string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("export: create %s: %w", dir, err)
	}

	var written []string
	write := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("export: create %s: %w", path, err)
		}
		defer f.Close()
		if err := fn(f); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if err := write("positions.csv", func(w io.Writer) error {
		return WritePositions(w, db, runID)
	}); err != nil {
		return written, err
	}
	if err := write("nom_controller_log.csv", func(w io.Writer) error {
		return WriteCommands(w, db, runID, false)
	}); err != nil {
		return written, err
	}
	if err := write("controller_log.csv", func(w io.Writer) error {
		return WriteCommands(w, db, runID, true)
	}); err != nil {
		return written, err
	}

	// Constraint and agent tables only exist for runs that enabled them.
	for _, kind := range []cbf.Kind{cbf.CommMaintain, cbf.CollisionAvoid} {
		values, err := db.ConstraintValues(runID, kind)
		if err != nil {
			return written, err
		}
		if len(values) == 0 {
			continue
		}
		name := fmt.Sprintf("cbf_%s_log.csv", kind)
		if err := write(name, func(w io.Writer) error {
			return WriteConstraintValues(w, db, runID, kind)
		}); err != nil {
			return written, err
		}
	}
	agents, err := db.AgentStates(runID)
	if err != nil {
		return written, err
	}
	if len(agents) > 0 {
		if err := write("agent_log.csv", func(w io.Writer) error {
			return WriteAgentStates(w, db, runID)
		}); err != nil {
			return written, err
		}
	}
	return written, nil
}
