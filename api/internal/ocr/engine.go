package ocr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Engine turns image bytes into text. Whitespace and newlines are returned
// as the engine produced them.
type Engine interface {
	Name() string
	Extract(ctx context.Context, image []byte) (string, error)
}

var errNoEngine = errors.New("no ocr engine configured")

// Failure is the single OCR error kind: undecodable image or engine error.
type Failure struct {
	Engine string
	Err    error
}

func (f *Failure) Error() string {
	if f.Engine == "" {
		return f.Err.Error()
	}
	return f.Engine + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail wraps err as a *Failure unless it already is one.
func Fail(engine string, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	return &Failure{Engine: engine, Err: err}
}

func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// Engines is the registry of configured engines plus the default name.
type Engines struct {
	Default string
	m       map[string]Engine
}

func NewEngines(def string, engs ...Engine) *Engines {
	e := &Engines{Default: def, m: make(map[string]Engine, len(engs))}
	for _, eng := range engs {
		if eng != nil {
			e.m[eng.Name()] = eng
		}
	}
	return e
}

func (e *Engines) GetEngine(name string) (Engine, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = e.Default
	}
	if eng, ok := e.m[name]; ok {
		return eng, nil
	}
	return nil, fmt.Errorf("unknown ocr engine %q; use one of: %s", name, strings.Join(e.Names(), ", "))
}

func (e *Engines) Names() []string {
	out := make([]string, 0, len(e.m))
	for n := range e.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Wrap replaces every registered engine with wrap(engine).
func (e *Engines) Wrap(wrap func(Engine) Engine) {
	for n, eng := range e.m {
		e.m[n] = wrap(eng)
	}
}

// Manager remembers a per-chat engine choice on top of the registry.
type Manager struct {
	engs *Engines
	m    sync.Map // chatID -> engine name
}

func NewManager(engs *Engines) *Manager {
	return &Manager{engs: engs}
}

func (m *Manager) Get(chatID int64) Engine {
	if v, ok := m.m.Load(chatID); ok {
		if eng, err := m.engs.GetEngine(v.(string)); err == nil {
			return eng
		}
	}
	eng, _ := m.engs.GetEngine("")
	return eng
}

func (m *Manager) Set(chatID int64, name string) (Engine, error) {
	eng, err := m.engs.GetEngine(name)
	if err != nil {
		return nil, err
	}
	m.m.Store(chatID, eng.Name())
	return eng, nil
}

func (m *Manager) Engines() *Engines { return m.engs }
