package memory

import "sync"

type statRecorder struct {
	mu     sync.Mutex
	values map[string]float64
}

func newStatRecorder() *statRecorder {
	return &statRecorder{values: make(map[string]float64)}
}

func (r *statRecorder) Adjust(name string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[name] += delta
}

func (r *statRecorder) Set(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[name] = value
}

func (r *statRecorder) Value(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[name]
}
