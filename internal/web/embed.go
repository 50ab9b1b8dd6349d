// Package web renders the board pages and serves their embedded static assets.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/companion-board/backend/internal/models"
)

//go:embed dist/*
var staticFiles embed.FS

//go:embed templates/*.html
var templateFiles embed.FS

// GetFileSystem returns the embedded filesystem with the dist folder as root.
func GetFileSystem() (fs.FS, error) {
	return fs.Sub(staticFiles, "dist")
}

// RegisterStaticRoutes serves the page assets under /static.
func RegisterStaticRoutes(e *echo.Echo) error {
	staticFS, err := GetFileSystem()
	if err != nil {
		return err
	}
	fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
	e.GET("/static/*", echo.WrapHandler(fileServer))
	return nil
}

// SnapshotSource is the board state the pages render.
type SnapshotSource interface {
	Snapshot() models.Snapshot
}

// ValuesSource supplies the latest resolved values per subject.
type ValuesSource interface {
	All() map[string]models.ResolvedMap
}

// Pages renders the display page at / and the control page at /control. With
// ?fragment=1 only the board markup is returned, which the page script swaps in
// when the socket reports a change.
type Pages struct {
	state  SnapshotSource
	values ValuesSource
	tmpl   *template.Template
}

// NewPages parses the embedded templates. values may be nil, in which case boxes
// show their static text.
func NewPages(state SnapshotSource, values ValuesSource) (*Pages, error) {
	tmpl, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing page templates: %w", err)
	}
	return &Pages{state: state, values: values, tmpl: tmpl}, nil
}

// HandleDisplayPage renders the read-only page.
func (p *Pages) HandleDisplayPage(c echo.Context) error {
	return p.render(c, false)
}

// HandleControlPage renders the interactive page.
func (p *Pages) HandleControlPage(c echo.Context) error {
	return p.render(c, true)
}

func (p *Pages) render(c echo.Context, control bool) error {
	var resolved map[string]models.ResolvedMap
	if p.values != nil {
		resolved = p.values.All()
	}
	view := BuildView(p.state.Snapshot(), resolved, control)

	name := "page"
	if c.QueryParam("fragment") != "" {
		name = "board"
	}
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, view); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to render page").SetInternal(err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}
