// Package simdb records simulation runs in sqlite: one row per run plus
// per-step series for positions, commands, constraint values and the
// exogenous agent. The schema is managed by embedded migrations.
package simdb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/swarm.safety/internal/cbf"
	"github.com/banshee-data/swarm.safety/internal/sim"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the sqlite connection.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("simdb: open %s: %w", path, err)
	}
	db := &DB{conn}
	if err := db.MigrateUp(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// MigrateUp applies all pending migrations from the embedded set.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("simdb: migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty state.
// Returns 0, false, nil before any migration has been applied.
func (db *DB) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// newMigrate builds a migrate instance over the embedded migrations.
// Note: the instance is not closed because that would close the
// underlying DB connection.
func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("simdb: load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("simdb: create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("simdb: create migrate instance: %w", err)
	}
	return m, nil
}

// Run is one recorded run's metadata.
type Run struct {
	ID        string
	CreatedAt time.Time
	Robots    int
	Steps     int
	Freq      int
	Completed bool
	FailStep  sql.NullInt64
	FailMsg   sql.NullString
	Config    string
}

// RecordRun stores a run and all of its series in one transaction and
// returns the generated run ID. runErr is nil for a completed run; for
// an aborted run the history holds the valid prefix and the failure is
// stored on the run row.
func (db *DB) RecordRun(h *sim.History, configJSON string, freq int, runErr error) (string, error) {
	runID := uuid.New().String()

	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("simdb: begin: %w", err)
	}
	defer tx.Rollback()

	completed := 0
	failStep := sql.NullInt64{}
	failMsg := sql.NullString{}
	if runErr == nil {
		completed = 1
	} else {
		failMsg = sql.NullString{String: runErr.Error(), Valid: true}
		var ne *sim.NumericalError
		var se *sim.StateError
		switch {
		case errors.As(runErr, &ne):
			failStep = sql.NullInt64{Int64: int64(ne.Step), Valid: true}
		case errors.As(runErr, &se):
			failStep = sql.NullInt64{Int64: int64(se.Step), Valid: true}
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO runs (run_id, robots, steps, freq, completed, fail_step, fail_reason, config)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, h.N(), h.Steps(), freq, completed, failStep, failMsg, configJSON,
	); err != nil {
		return "", fmt.Errorf("simdb: insert run: %w", err)
	}

	if err := insertStates(tx, runID, h); err != nil {
		return "", err
	}
	if err := insertCommands(tx, runID, h); err != nil {
		return "", err
	}
	if err := insertConstraintValues(tx, runID, h); err != nil {
		return "", err
	}
	if err := insertAgentStates(tx, runID, h); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("simdb: commit: %w", err)
	}
	return runID, nil
}

func insertStates(tx *sql.Tx, runID string, h *sim.History) error {
	stmt, err := tx.Prepare(
		`INSERT INTO robot_states (run_id, step, time, robot, x, y) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("simdb: prepare robot_states: %w", err)
	}
	defer stmt.Close()

	for step, p := range h.Positions() {
		t := h.Time(step)
		for robot := 1; robot <= h.N(); robot++ {
			if _, err := stmt.Exec(runID, step, t, robot, p[2*(robot-1)], p[2*(robot-1)+1]); err != nil {
				return fmt.Errorf("simdb: insert robot state: %w", err)
			}
		}
	}
	return nil
}

func insertCommands(tx *sql.Tx, runID string, h *sim.History) error {
	stmt, err := tx.Prepare(
		`INSERT INTO commands (run_id, step, time, robot, nominal_x, nominal_y, filtered_x, filtered_y)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("simdb: prepare commands: %w", err)
	}
	defer stmt.Close()

	nominal := h.Nominal()
	filtered := h.Filtered()
	for step := range nominal {
		t := h.Time(step)
		for robot := 1; robot <= h.N(); robot++ {
			if _, err := stmt.Exec(runID, step, t, robot,
				nominal[step][2*(robot-1)], nominal[step][2*(robot-1)+1],
				filtered[step][2*(robot-1)], filtered[step][2*(robot-1)+1],
			); err != nil {
				return fmt.Errorf("simdb: insert command: %w", err)
			}
		}
	}
	return nil
}

func insertConstraintValues(tx *sql.Tx, runID string, h *sim.History) error {
	stmt, err := tx.Prepare(
		`INSERT INTO constraint_values (run_id, step, time, kind, i, j, h) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("simdb: prepare constraint_values: %w", err)
	}
	defer stmt.Close()

	insert := func(kind cbf.Kind, series [][]float64) error {
		for step, values := range series {
			t := h.Time(step)
			for e, edge := range h.Edges() {
				if _, err := stmt.Exec(runID, step, t, kind.String(), edge.I, edge.J, values[e]); err != nil {
					return fmt.Errorf("simdb: insert %s value: %w", kind, err)
				}
			}
		}
		return nil
	}
	if cm := h.CommValues(); cm != nil {
		if err := insert(cbf.CommMaintain, cm); err != nil {
			return err
		}
	}
	if oa := h.AvoidValues(); oa != nil {
		if err := insert(cbf.CollisionAvoid, oa); err != nil {
			return err
		}
	}
	return nil
}

func insertAgentStates(tx *sql.Tx, runID string, h *sim.History) error {
	positions := h.AgentPositions()
	commands := h.AgentCommands()
	if positions == nil && commands == nil {
		return nil
	}
	stmt, err := tx.Prepare(
		`INSERT INTO agent_states (run_id, step, time, x, y, vx, vy) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("simdb: prepare agent_states: %w", err)
	}
	defer stmt.Close()

	steps := len(positions)
	if steps == 0 {
		steps = len(commands)
	}
	for step := 0; step < steps; step++ {
		var x, y, vx, vy sql.NullFloat64
		if step < len(positions) {
			x = sql.NullFloat64{Float64: positions[step][0], Valid: true}
			y = sql.NullFloat64{Float64: positions[step][1], Valid: true}
		}
		if step < len(commands) {
			vx = sql.NullFloat64{Float64: commands[step][0], Valid: true}
			vy = sql.NullFloat64{Float64: commands[step][1], Valid: true}
		}
		if _, err := stmt.Exec(runID, step, h.Time(step), x, y, vx, vy); err != nil {
			return fmt.Errorf("simdb: insert agent state: %w", err)
		}
	}
	return nil
}

// Runs lists recorded runs, newest first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(
		`SELECT run_id, created_at, robots, steps, freq, completed, fail_step, fail_reason, config
		 FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("simdb: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var completed int
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Robots, &r.Steps, &r.Freq,
			&completed, &r.FailStep, &r.FailMsg, &r.Config); err != nil {
			return nil, fmt.Errorf("simdb: scan run: %w", err)
		}
		r.Completed = completed != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun fetches one run's metadata.
func (db *DB) GetRun(runID string) (*Run, error) {
	var r Run
	var completed int
	err := db.QueryRow(
		`SELECT run_id, created_at, robots, steps, freq, completed, fail_step, fail_reason, config
		 FROM runs WHERE run_id = ?`, runID).
		Scan(&r.ID, &r.CreatedAt, &r.Robots, &r.Steps, &r.Freq, &completed, &r.FailStep, &r.FailMsg, &r.Config)
	if err != nil {
		return nil, fmt.Errorf("simdb: get run %s: %w", runID, err)
	}
	r.Completed = completed != 0
	return &r, nil
}

// StateRow is one robot's position at one step.
type StateRow struct {
	Step  int
	Time  float64
	Robot int
	X, Y  float64
}

// RobotStates returns a run's positions ordered by step then robot.
func (db *DB) RobotStates(runID string) ([]StateRow, error) {
	rows, err := db.Query(
		`SELECT step, time, robot, x, y FROM robot_states WHERE run_id = ? ORDER BY step, robot`, runID)
	if err != nil {
		return nil, fmt.Errorf("simdb: query robot states: %w", err)
	}
	defer rows.Close()

	var out []StateRow
	for rows.Next() {
		var s StateRow
		if err := rows.Scan(&s.Step, &s.Time, &s.Robot, &s.X, &s.Y); err != nil {
			return nil, fmt.Errorf("simdb: scan robot state: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CommandRow is one robot's nominal and filtered command at one step.
type CommandRow struct {
	Step      int
	Time      float64
	Robot     int
	NominalX  float64
	NominalY  float64
	FilteredX float64
	FilteredY float64
}

// Commands returns a run's commands ordered by step then robot.
func (db *DB) Commands(runID string) ([]CommandRow, error) {
	rows, err := db.Query(
		`SELECT step, time, robot, nominal_x, nominal_y, filtered_x, filtered_y
		 FROM commands WHERE run_id = ? ORDER BY step, robot`, runID)
	if err != nil {
		return nil, fmt.Errorf("simdb: query commands: %w", err)
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(&c.Step, &c.Time, &c.Robot, &c.NominalX, &c.NominalY, &c.FilteredX, &c.FilteredY); err != nil {
			return nil, fmt.Errorf("simdb: scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConstraintRow is one constraint instance's barrier value at one step.
type ConstraintRow struct {
	Step int
	Time float64
	I, J int
	H    float64
}

// ConstraintValues returns a run's barrier values for one family,
// ordered by step then participants.
func (db *DB) ConstraintValues(runID string, kind cbf.Kind) ([]ConstraintRow, error) {
	rows, err := db.Query(
		`SELECT step, time, i, j, h FROM constraint_values
		 WHERE run_id = ? AND kind = ? ORDER BY step, i, j`, runID, kind.String())
	if err != nil {
		return nil, fmt.Errorf("simdb: query constraint values: %w", err)
	}
	defer rows.Close()

	var out []ConstraintRow
	for rows.Next() {
		var c ConstraintRow
		if err := rows.Scan(&c.Step, &c.Time, &c.I, &c.J, &c.H); err != nil {
			return nil, fmt.Errorf("simdb: scan constraint value: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AgentRow is the agent's state at one step.
type AgentRow struct {
	Step   int
	Time   float64
	X, Y   sql.NullFloat64
	VX, VY sql.NullFloat64
}

// AgentStates returns a run's agent series ordered by step.
func (db *DB) AgentStates(runID string) ([]AgentRow, error) {
	rows, err := db.Query(
		`SELECT step, time, x, y, vx, vy FROM agent_states WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("simdb: query agent states: %w", err)
	}
	defer rows.Close()

	var out []AgentRow
	for rows.Next() {
		var a AgentRow
		if err := rows.Scan(&a.Step, &a.Time, &a.X, &a.Y, &a.VX, &a.VY); err != nil {
			return nil, fmt.Errorf("simdb: scan agent state: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
