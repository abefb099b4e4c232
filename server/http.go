package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/invoice-relay/ingest"
	"github.com/invoice-relay/logging"
	"github.com/invoice-relay/store"
)

// HTTPServer is the dashboard and its JSON endpoints.
type HTTPServer struct {
	runner      Runner
	accounts    AccountStore
	logs        LogFeed
	broadcaster *logging.Broadcaster
	logger      *slog.Logger
	baseCtx     context.Context
}

func NewHTTPServer(baseCtx context.Context, runner Runner, accounts AccountStore, logs LogFeed, broadcaster *logging.Broadcaster, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		runner:      runner,
		accounts:    accounts,
		logs:        logs,
		broadcaster: broadcaster,
		logger:      logger,
		baseCtx:     baseCtx,
	}
}

func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Post("/add", s.handleAdd)
	r.Post("/delete/{id}", s.handleDelete)
	r.Post("/run", s.handleRun)
	r.Get("/logs", s.handleLogs)
	r.Post("/clear_logs", s.handleClearLogs)
	r.Get("/status", s.handleStatus)
	if s.broadcaster != nil {
		r.Get("/ws/logs", s.handleLogStream)
	}
	return r
}

// RunHTTPServer serves the dashboard on addr until ctx is done.
func RunHTTPServer(ctx context.Context, addr string, srv *HTTPServer, logger *slog.Logger) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	logger.Info("Dashboard listening", "addr", addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type indexData struct {
	Accounts   []store.Account
	Logs       []store.LogEntry
	BotRunning bool
}

func (s *HTTPServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logs, err := s.logs.Recent(r.Context(), store.DefaultLogLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, indexData{
		Accounts:   accounts,
		Logs:       logs,
		BotRunning: s.runner.Running(),
	}); err != nil {
		s.logger.Error("Failed to render dashboard", "error", err)
	}
}

func (s *HTTPServer) handleAdd(w http.ResponseWriter, r *http.Request) {
	field := func(name string) string { return strings.TrimSpace(r.FormValue(name)) }
	acc := store.Account{
		Name:         field("name"),
		ContextLabel: field("mandant"),
		Username:     field("username"),
		Password:     field("password"),
		APIKey:       field("api_key"),
		SavePath:     field("save_path"),
	}
	if _, err := s.accounts.Add(r.Context(), acc); err != nil {
		s.logger.Warn("Account not added", "name", acc.Name, "error", err)
	} else {
		s.logger.Info("Account added", "name", acc.Name, "target", acc.Target())
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := s.accounts.Delete(r.Context(), id); err != nil && !errors.Is(err, store.ErrAccountNotFound) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *HTTPServer) handleRun(w http.ResponseWriter, r *http.Request) {
	err := s.runner.Start(s.baseCtx)
	switch {
	case errors.Is(err, ingest.ErrRunActive):
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": msgAlreadyRunning})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": msgStarted})
	}
}

func (s *HTTPServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.logs.Recent(r.Context(), store.DefaultLogLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *HTTPServer) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.logs.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.runner.Running()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="de">
<head>
<meta charset="utf-8">
<title>Invoice Relay</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
.ERROR { color: #b00; }
</style>
</head>
<body>
<h1>Invoice Relay</h1>
<p>Status: <strong id="status">{{if .BotRunning}}running{{else}}idle{{end}}</strong>
<button onclick="fetch('/run', {method: 'POST'}).then(r => r.json()).then(d => alert(d.message))">Run now</button></p>

<h2>Accounts</h2>
<table>
<tr><th>Name</th><th>Mandant</th><th>Username</th><th>Target</th><th></th></tr>
{{range .Accounts}}
<tr>
<td>{{.Name}}</td><td>{{.ContextLabel}}</td><td>{{.Username}}</td><td>{{.Target}}</td>
<td><form method="post" action="/delete/{{.ID}}"><button>Delete</button></form></td>
</tr>
{{end}}
</table>

<h3>Add account</h3>
<form method="post" action="/add">
<input name="name" placeholder="Name" required>
<input name="mandant" placeholder="Mandant (optional)">
<input name="username" placeholder="Username" required>
<input name="password" type="password" placeholder="Password" required>
<input name="api_key" placeholder="API key">
<input name="save_path" placeholder="Save path">
<button>Add</button>
</form>

<h2>Logs</h2>
<form method="post" action="/clear_logs"><button>Clear logs</button></form>
<table id="logs">
{{range .Logs}}
<tr class="{{.Level}}"><td>{{.Timestamp}}</td><td>{{.Level}}</td><td>{{.Message}}</td></tr>
{{end}}
</table>
<script>
const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws/logs');
ws.onmessage = (ev) => {
  const e = JSON.parse(ev.data);
  const row = document.createElement('tr');
  row.className = e.level;
  for (const v of [e.timestamp, e.level, e.message]) {
    const td = document.createElement('td');
    td.textContent = v;
    row.appendChild(td);
  }
  document.getElementById('logs').prepend(row);
};
setInterval(() => fetch('/status').then(r => r.json()).then(d => {
  document.getElementById('status').textContent = d.running ? 'running' : 'idle';
}), 2000);
</script>
</body>
</html>
`))
