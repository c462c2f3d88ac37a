package journal

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/idgen"
)

// Routes mounts the read-only journal API on r:
//
//	GET /health
//	GET /                      HTML list of recent runs
//	GET /runs                  ?limit=&offset=
//	GET /runs/{id}
//	GET /runs/{id}/outcomes    ?status=&limit=&offset=
func (j *Journal) Routes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/", j.handleRunsHTML)
	r.Get("/runs", j.handleRuns)
	r.Get("/runs/{id}", j.handleRun)
	r.Get("/runs/{id}/outcomes", j.handleOutcomes)
}

// Handler returns a chi router serving Routes.
func (j *Journal) Handler() http.Handler {
	r := chi.NewRouter()
	j.Routes(r)
	return r
}

func (j *Journal) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := j.Runs(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		j.logger.Error("journal: list runs", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (j *Journal) handleRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	run, err := j.Run(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		jsonErr(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		j.logger.Error("journal: get run", "run_id", id, "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (j *Journal) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	f := Filter{
		Status: convert.Status(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if f.Status != "" && !validStatus(f.Status) {
		jsonErr(w, "unknown status "+strconv.Quote(string(f.Status)), http.StatusBadRequest)
		return
	}
	entries, err := j.Outcomes(r.Context(), id, f)
	if errors.Is(err, ErrNotFound) {
		jsonErr(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		j.logger.Error("journal: list outcomes", "run_id", id, "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type runView struct {
	Run
	Started string
	Elapsed string
}

var runsHTMLTmpl = template.Must(template.New("runs").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>topdf runs</title>
<style>
body{font-family:system-ui,sans-serif;max-width:1000px;margin:2rem auto;padding:0 1rem;color:#222;background:#fafafa}
h1{font-size:1.4rem;border-bottom:2px solid #e0e0e0;padding-bottom:.5rem}
table{border-collapse:collapse;width:100%;background:#fff}
td,th{border:1px solid #e0e0e0;padding:.4rem .6rem;font-size:.9rem;text-align:left}
.err{color:#b00020}
.empty{color:#999;font-style:italic}
</style></head><body>
<h1>topdf runs ({{.Count}})</h1>
{{- if eq .Count 0}}
<p class="empty">No runs recorded yet.</p>
{{- else}}
<table><tr><th>Started</th><th>Root</th><th>Status</th><th>Files</th><th>OK</th><th>Errors</th><th>Skipped</th><th>Elapsed</th></tr>
{{- range .Runs}}
<tr><td><a href="runs/{{.RunID}}/outcomes">{{.Started}}</a></td><td>{{.Root}}</td><td>{{.Status}}</td>
<td>{{.Files}}</td><td>{{.Success}}</td><td{{if .Errors}} class="err"{{end}}>{{.Errors}}</td><td>{{.Skipped}}</td><td>{{.Elapsed}}</td></tr>
{{- end}}
</table>
{{- end}}
</body></html>`))

func (j *Journal) handleRunsHTML(w http.ResponseWriter, r *http.Request) {
	runs, err := j.Runs(r.Context(), 200, 0)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	views := make([]runView, len(runs))
	for i, run := range runs {
		views[i] = runView{Run: run, Started: run.StartedAt.Local().Format("2006-01-02 15:04:05"), Elapsed: "-"}
		if run.FinishedAt != nil {
			views[i].Elapsed = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	runsHTMLTmpl.Execute(w, struct {
		Count int
		Runs  []runView
	}{len(views), views})
}

func runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := idgen.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func validStatus(s convert.Status) bool {
	for _, known := range convert.Statuses {
		if s == known {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}
