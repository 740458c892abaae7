package ports

// StatRecorder exposes per-service named counters. Values are best-effort
// statistics, not authoritative state.
type StatRecorder interface {
	Adjust(name string, delta float64)
	Set(name string, value float64)
	Value(name string) float64
}
