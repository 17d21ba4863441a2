package plugin

import (
	"net/http"
	"sync"

	"github.com/Plawn/r2e-sub001/pkg/scheduler"
)

// Lifecycle collects layers, hooks and scheduled tasks contributed by
// plugins and controllers.
type Lifecycle struct {
	mu      sync.Mutex
	layers  []Layer
	onStart []Hook
	onStop  []Hook
	tasks   []scheduler.Task
}

// NewLifecycle creates an empty lifecycle.
func NewLifecycle() *Lifecycle { return &Lifecycle{} }

func (lc *Lifecycle) AddLayer(l Layer) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.layers = append(lc.layers, l)
}

func (lc *Lifecycle) OnStart(h Hook) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.onStart = append(lc.onStart, h)
}

func (lc *Lifecycle) OnStop(h Hook) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.onStop = append(lc.onStop, h)
}

// AddTasks records scheduled tasks to start at serve time.
func (lc *Lifecycle) AddTasks(tasks ...scheduler.Task) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.tasks = append(lc.tasks, tasks...)
}

func (lc *Lifecycle) Layers() []Layer {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return append([]Layer(nil), lc.layers...)
}

func (lc *Lifecycle) StartHooks() []Hook {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return append([]Hook(nil), lc.onStart...)
}

func (lc *Lifecycle) StopHooks() []Hook {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return append([]Hook(nil), lc.onStop...)
}

func (lc *Lifecycle) Tasks() []scheduler.Task {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return append([]scheduler.Task(nil), lc.tasks...)
}

// Apply wraps h with every layer; the last layer added ends up outermost.
func (lc *Lifecycle) Apply(h http.Handler) http.Handler {
	for _, l := range lc.Layers() {
		h = l(h)
	}
	return h
}
