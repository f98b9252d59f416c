package bot

import "context"

// Logger is the minimal logging abstraction used across modules.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Config provides typed access to configuration values.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetFloat64(key string) float64
}

// EventRecorder defines storage operations for guard events and counters.
type EventRecorder interface {
	RecordGuardEvent(ctx context.Context, event *GuardEvent) error
	CountGuardEvents(ctx context.Context) (int64, error)
	CountGuardEventsByCog(ctx context.Context) (map[string]int64, error)
	RecentGuardEvents(ctx context.Context, limit int) ([]*GuardEvent, error)
	IncrementCounter(ctx context.Context, key string) error
	GetCounter(ctx context.Context, key string) (int64, error)
}

// WorkerPool limits concurrency for background tasks.
type WorkerPool interface {
	Submit(task func()) error
	TrySubmit(task func()) bool
	SubmitWait(task func() error) error
	Shutdown(ctx context.Context) error
	Size() int
}

// ReleaseChecker looks up the latest published release. A nil error means
// the returned release is non-nil.
type ReleaseChecker interface {
	CheckUpdate(ctx context.Context) (*Release, error)
}
