package console

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

//go:embed templates/*.html assets/app.css
var embeddedFS embed.FS

const layoutName = "layout.html"

var pageNames = []string{
	"login", "dashboard", "list", "form", "detail", "compare", "audit_logs", "audit_log", "error",
}

var templateFuncs = template.FuncMap{
	"lower": strings.ToLower,
	"statusClass": func(status string) string {
		switch strings.ToLower(status) {
		case "approved", "accepted", "won", "issued", "completed", "received", "closed":
			return "badge badge-ok"
		case "rejected", "lost", "cancelled":
			return "badge badge-bad"
		case "":
			return ""
		}
		return "badge"
	},
	"inputType": func(kind string) string {
		switch kind {
		case "number", "money", "percent":
			return "number"
		case "date":
			return "date"
		case "email":
			return "email"
		case "phone":
			return "tel"
		}
		return "text"
	},
}

// templateSet holds one parsed template per page. Pages are parsed together with
// the layout and executed through it.
type templateSet struct {
	mu    sync.RWMutex
	pages map[string]*template.Template
}

func parseTemplates(fsys fs.FS) (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(layoutName).Funcs(templateFuncs).ParseFS(fsys, path.Join("templates", layoutName), path.Join("templates", name+".html"))
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

func newTemplateSet(fsys fs.FS) (*templateSet, error) {
	pages, err := parseTemplates(fsys)
	if err != nil {
		return nil, err
	}
	return &templateSet{pages: pages}, nil
}

func (t *templateSet) replace(pages map[string]*template.Template) {
	t.mu.Lock()
	t.pages = pages
	t.mu.Unlock()
}

func (t *templateSet) lookup(name string) (*template.Template, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tmpl, ok := t.pages[name]
	return tmpl, ok
}

func (t *templateSet) render(w http.ResponseWriter, status int, name string, data pageData) error {
	tmpl, ok := t.lookup(name)
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}
	return renderHTMLTemplate(w, status, tmpl, data)
}

func renderHTMLTemplate(w http.ResponseWriter, status int, tmpl *template.Template, data pageData) error {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, layoutName, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// templateWatcher re-parses the on-disk templates whenever one changes. A
// failed parse keeps the previous set.
type templateWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func watchTemplates(dir string, set *templateSet, logger *zap.Logger) (*templateWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create template watcher: %w", err)
	}
	if err := watcher.Add(filepath.Join(dir, "templates")); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	tw := &templateWatcher{watcher: watcher, done: make(chan struct{})}
	fsys := os.DirFS(dir)
	go func() {
		defer close(tw.done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".html") || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pages, err := parseTemplates(fsys)
				if err != nil {
					logger.Warn("template reload failed", zap.String("file", event.Name), zap.Error(err))
					continue
				}
				set.replace(pages)
				logger.Info("templates reloaded", zap.String("file", event.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("template watcher error", zap.Error(err))
			}
		}
	}()
	return tw, nil
}

func (tw *templateWatcher) Close() error {
	err := tw.watcher.Close()
	<-tw.done
	return err
}
