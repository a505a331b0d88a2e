package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"

	"github.com/TobiSchelling/offerpilot/internal/database"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Captions are plain text with line breaks; hard wraps keep them.
var md = goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))

// Server is the dashboard: the day's plan, send history and the catalog.
type Server struct {
	db      *database.DB
	loc     *time.Location
	origins []string
	pages   map[string]*template.Template
	router  chi.Router
}

// New creates a new Server. Days are computed in loc. origins lists the
// browser origins allowed to read the JSON API.
func New(db *database.DB, loc *time.Location, origins []string) (*Server, error) {
	if loc == nil {
		loc = time.Local
	}
	funcMap := template.FuncMap{
		"caption":    renderCaption,
		"formatDay":  database.FormatDayDisplay,
		"formatTime": func(t *time.Time) string {
			if t == nil {
				return "-"
			}
			return t.In(loc).Format("2006-01-02 15:04")
		},
		"money": func(v *float64) string {
			if v == nil {
				return "-"
			}
			return fmt.Sprintf("%.2f", *v)
		},
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, eris.Wrap(err, "server: parse base template")
	}

	// Each page clones the base so it can define its own "title" and "content".
	pageNames := []string{"plan.html", "ledger.html", "products.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, eris.Wrapf(err, "server: clone base for %s", name)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, eris.Wrapf(err, "server: parse template %s", name)
		}
		pages[name] = clone
	}

	s := &Server{db: db, loc: loc, origins: origins, pages: pages}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/plan", http.StatusFound)
	})
	r.Get("/plan", s.handlePlan)
	r.Get("/plan/{day}", s.handlePlan)
	r.Get("/ledger", s.handleLedger)
	r.Route("/products", func(r chi.Router) {
		r.Get("/", s.handleProducts)
		r.Post("/{id}/pause", s.handleStatus(database.StatusPaused))
		r.Post("/{id}/resume", s.handleStatus(database.StatusActive))
	})
	r.Route("/api", func(r chi.Router) {
		if len(s.origins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: s.origins,
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"Accept"},
				MaxAge:         300,
			}))
		}
		r.Get("/plan/{day}", s.handlePlanJSON)
	})
	s.router = r
}

func (s *Server) day(r *http.Request) (string, bool) {
	day := chi.URLParam(r, "day")
	if day == "" {
		return database.GetToday(s.loc), true
	}
	if _, err := database.ParseDay(day, s.loc); err != nil {
		return "", false
	}
	return day, true
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	day, ok := s.day(r)
	if !ok {
		http.Error(w, "bad day", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	rows, err := s.db.GetSelection(ctx, day)
	if err != nil {
		s.fail(w, err)
		return
	}
	sent, err := s.db.SentIDs(ctx, day)
	if err != nil {
		s.fail(w, err)
		return
	}
	runs, err := s.db.ListRunReports(ctx, 5)
	if err != nil {
		s.fail(w, err)
		return
	}
	stats, err := s.db.GetStats(ctx, database.GetToday(s.loc))
	if err != nil {
		s.fail(w, err)
		return
	}

	s.render(w, "plan.html", map[string]any{
		"Day":   day,
		"Rows":  rows,
		"Sent":  sent,
		"Runs":  runs,
		"Stats": stats,
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.RecentLedger(r.Context(), 200)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.render(w, "ledger.html", map[string]any{"Entries": entries})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	products, err := s.db.ListProducts(r.Context(), status)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.render(w, "products.html", map[string]any{"Products": products, "Status": status})
}

func (s *Server) handleStatus(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := s.db.SetProductStatus(r.Context(), id, status)
		if errors.Is(err, database.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.fail(w, err)
			return
		}
		zap.L().Info("product status changed", zap.String("product_id", id), zap.String("status", status))
		http.Redirect(w, r, "/products", http.StatusFound)
	}
}

type planSlot struct {
	Position  int     `json:"position"`
	Time      string  `json:"time"`
	Block     string  `json:"block"`
	ProductID string  `json:"product_id,omitempty"`
	Title     string  `json:"title,omitempty"`
	Valid     bool    `json:"valid"`
	Reason    string  `json:"reason,omitempty"`
	Score     float64 `json:"score"`
	Caption   string  `json:"caption,omitempty"`
	Sent      bool    `json:"sent"`
}

func (s *Server) handlePlanJSON(w http.ResponseWriter, r *http.Request) {
	day, ok := s.day(r)
	if !ok {
		http.Error(w, "bad day", http.StatusBadRequest)
		return
	}
	rows, err := s.db.GetSelection(r.Context(), day)
	if err != nil {
		s.fail(w, err)
		return
	}
	sent, err := s.db.SentIDs(r.Context(), day)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]planSlot, len(rows))
	for i, row := range rows {
		ps := planSlot{
			Position:  row.Position,
			Time:      row.SlotTime,
			Block:     row.Block,
			ProductID: row.ProductID,
			Valid:     row.Valid,
			Reason:    row.Reason,
			Score:     row.Score,
			Caption:   row.Caption,
			Sent:      sent[row.ProductID],
		}
		if row.Product != nil {
			ps.Title = row.Product.Title
		}
		out[i] = ps
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"day": day, "slots": out})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		zap.L().Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.fail(w, eris.Wrapf(err, "server: render %s", name))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func renderCaption(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve runs the dashboard on 127.0.0.1:port until ctx is cancelled.
func Serve(ctx context.Context, db *database.DB, loc *time.Location, port int, origins []string) error {
	srv, err := New(db, loc, origins)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server listening", zap.String("url", "http://"+addr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}
