// Package monitor serves review pages for recorded runs: a run index
// plus go-echarts charts of trajectories, barrier values and commands,
// all read back from the run database.
package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/swarm.safety/internal/cbf"
	"github.com/banshee-data/swarm.safety/internal/simdb"
)

// WebServer serves the review UI for one run database.
type WebServer struct {
	db   *simdb.DB
	addr string
}

// NewWebServer binds a review server to a run database.
func NewWebServer(db *simdb.DB, addr string) *WebServer {
	return &WebServer{db: db, addr: addr}
}

// Routes registers the server's handlers on mux.
func (ws *WebServer) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/", ws.handleIndex)
	mux.HandleFunc("/runs/trajectories", ws.handleTrajectories)
	mux.HandleFunc("/runs/constraints", ws.handleConstraints)
	mux.HandleFunc("/runs/correction", ws.handleCorrection)
}

// ListenAndServe blocks serving the review UI.
func (ws *WebServer) ListenAndServe() error {
	mux := http.NewServeMux()
	ws.Routes(mux)
	log.Printf("monitor: serving run review on %s", ws.addr)
	return http.ListenAndServe(ws.addr, mux)
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs, err := ws.db.Runs()
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html><html><head><title>swarm.safety runs</title></head><body>")
	buf.WriteString("<h1>Recorded runs</h1><table border=1 cellpadding=4>")
	buf.WriteString("<tr><th>Run</th><th>Created</th><th>Robots</th><th>Steps</th><th>Status</th><th>Charts</th></tr>")
	for _, run := range runs {
		status := "completed"
		if !run.Completed {
			status = "failed"
			if run.FailStep.Valid {
				status = fmt.Sprintf("failed at step %d", run.FailStep.Int64)
			}
		}
		fmt.Fprintf(&buf,
			`<tr><td>%s</td><td>%s</td><td>%d</td><td>%d</td><td>%s</td>
			 <td><a href="/runs/trajectories?run=%s">trajectories</a>
			 <a href="/runs/constraints?run=%s&kind=cm">h_cm</a>
			 <a href="/runs/constraints?run=%s&kind=oa">h_oa</a>
			 <a href="/runs/correction?run=%s">correction</a></td></tr>`,
			html.EscapeString(run.ID), run.CreatedAt.Format("2006-01-02 15:04:05"),
			run.Robots, run.Steps, status,
			run.ID, run.ID, run.ID, run.ID)
	}
	buf.WriteString("</table></body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// handleTrajectories renders every robot's path (and the agent's, when
// recorded) as an XY scatter.
func (ws *WebServer) handleTrajectories(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run")
	run, err := ws.db.GetRun(runID)
	if err != nil {
		ws.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	states, err := ws.db.RobotStates(runID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Trajectories", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Robot trajectories", Subtitle: fmt.Sprintf("run=%s robots=%d", runID, run.Robots)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y", Type: "value"}),
	)

	series := make(map[int][]opts.ScatterData, run.Robots)
	for _, s := range states {
		series[s.Robot] = append(series[s.Robot], opts.ScatterData{Value: []interface{}{s.X, s.Y}})
	}
	for robot := 1; robot <= run.Robots; robot++ {
		scatter.AddSeries(fmt.Sprintf("Robot %d", robot), series[robot],
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}

	if agents, err := ws.db.AgentStates(runID); err == nil && len(agents) > 0 {
		var pts []opts.ScatterData
		for _, a := range agents {
			if a.X.Valid {
				pts = append(pts, opts.ScatterData{Value: []interface{}{a.X.Float64, a.Y.Float64}})
			}
		}
		if len(pts) > 0 {
			scatter.AddSeries("Agent", pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
		}
	}

	ws.render(w, scatter)
}

// handleConstraints renders one family's barrier values over time, one
// line per edge. A value dipping below zero is a safety violation.
func (ws *WebServer) handleConstraints(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run")
	kindName := r.URL.Query().Get("kind")
	var kind cbf.Kind
	switch kindName {
	case "cm":
		kind = cbf.CommMaintain
	case "oa", "":
		kind = cbf.CollisionAvoid
	default:
		ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %q", kindName))
		return
	}

	values, err := ws.db.ConstraintValues(runID, kind)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(values) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no %s values for run %s", kind, runID))
		return
	}

	type edgeKey struct{ i, j int }
	var times []string
	lines := make(map[edgeKey][]opts.LineData)
	var order []edgeKey
	lastStep := -1
	for _, v := range values {
		if v.Step != lastStep {
			times = append(times, fmt.Sprintf("%.2f", v.Time))
			lastStep = v.Step
		}
		k := edgeKey{v.I, v.J}
		if _, ok := lines[k]; !ok {
			order = append(order, k)
		}
		lines[k] = append(lines[k], opts.LineData{Value: v.H})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "CBF values", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("CBF values (%s)", kind), Subtitle: fmt.Sprintf("run=%s", runID)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "h"}),
	)
	line.SetXAxis(times)
	for _, k := range order {
		line.AddSeries(fmt.Sprintf("Edge(%d,%d)", k.i, k.j), lines[k])
	}

	ws.render(w, line)
}

// handleCorrection renders per-robot |u - u_nom| over time.
func (ws *WebServer) handleCorrection(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run")
	run, err := ws.db.GetRun(runID)
	if err != nil {
		ws.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	commands, err := ws.db.Commands(runID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var times []string
	series := make(map[int][]opts.LineData, run.Robots)
	for _, c := range commands {
		if c.Robot == 1 {
			times = append(times, fmt.Sprintf("%.2f", c.Time))
		}
		dx := c.FilteredX - c.NominalX
		dy := c.FilteredY - c.NominalY
		series[c.Robot] = append(series[c.Robot], opts.LineData{Value: math.Hypot(dx, dy)})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Filter correction", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Filter correction |u - u_nom|", Subtitle: fmt.Sprintf("run=%s", runID)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "|u - u_nom|"}),
	)
	line.SetXAxis(times)
	for robot := 1; robot <= run.Robots; robot++ {
		line.AddSeries(fmt.Sprintf("Robot %d", robot), series[robot])
	}

	ws.render(w, line)
}

type renderable interface {
	Render(w io.Writer) error
}

func (ws *WebServer) render(w http.ResponseWriter, chart renderable) {
	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
