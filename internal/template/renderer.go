package template

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Renderer parses and caches templates by content hash. It is safe for
// concurrent use.
type Renderer struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{
		templates: make(map[string]*template.Template),
	}
}

var defaultRenderer = NewRenderer()

// RenderTemplate renders tmpl with the package-wide renderer
func RenderTemplate(tmpl string, ctx *Context) (string, error) {
	return defaultRenderer.Render(tmpl, ctx)
}

func templateName(tmpl string) string {
	hash := sha256.Sum256([]byte(tmpl))
	return "tmpl_" + hex.EncodeToString(hash[:8])
}

// funcMap is sprig plus the helpers tool definitions rely on. env is bound
// per render so tests can stub it.
func funcMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	fm["fromJSON"] = fromJSON
	fm["toJSON"] = toJSON
	fm["safeGet"] = safeGet
	fm["safeGetOr"] = safeGetOr
	fm["env"] = func(string) string { return "" }
	return fm
}

// Parse compiles tmpl without rendering it, so tool definitions can be
// checked at startup
func (r *Renderer) Parse(tmpl string) error {
	_, err := r.lookup(tmpl)
	return err
}

func (r *Renderer) lookup(tmpl string) (*template.Template, error) {
	name := templateName(tmpl)
	r.mu.RLock()
	t, ok := r.templates[name]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := template.New(name).Funcs(funcMap()).Parse(tmpl)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.templates[name] = t
	r.mu.Unlock()
	return t, nil
}

// Render executes tmpl against ctx
func (r *Renderer) Render(tmpl string, ctx *Context) (string, error) {
	t, err := r.lookup(tmpl)
	if err != nil {
		return "", err
	}
	if ctx.Env != nil {
		t, err = t.Clone()
		if err != nil {
			return "", err
		}
		t = t.Funcs(template.FuncMap{"env": ctx.Env})
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", err
	}
	return buf.String(), nil
}
