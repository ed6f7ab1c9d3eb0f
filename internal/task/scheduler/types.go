package scheduler

import (
	"context"
	"sync"
	"time"

	"cronkeeper/internal/eventbus"
	"cronkeeper/internal/runtime/supervisor"
	"cronkeeper/internal/task"
	"cronkeeper/internal/task/deps"
	"cronkeeper/internal/task/executor"
	"cronkeeper/internal/task/store"
	logx "cronkeeper/pkg/logx"
)

// Config controls the dispatch loop.
type Config struct {
	Enabled      bool
	Timezone     string // IANA TZ, e.g. "Asia/Jakarta"; empty means local
	TickInterval time.Duration
	// DefaultAlertChat receives failure alerts when a task names none.
	DefaultAlertChat string
}

const defaultTick = time.Second

// Executor runs one attempt of a task.
type Executor interface {
	Execute(ctx context.Context, t task.Task) executor.Result
}

// Alerter receives failure notifications for tasks with notifyOnError.
type Alerter interface {
	Alert(ctx context.Context, chatID, message string) error
}

// Spec describes a new task.
type Spec struct {
	Name           string
	Type           task.Type
	CronExpression string
	Metadata       task.Metadata
	Enabled        bool
	Dependencies   *task.Dependencies
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name           *string
	Type           *task.Type
	CronExpression *string
	Metadata       task.Metadata
	Enabled        *bool
	Dependencies   *task.Dependencies
	// ClearDependencies removes the dependency block.
	ClearDependencies bool
}

type ImportResult struct {
	Success  bool     `json:"success"`
	Imported int      `json:"imported"`
	Errors   []string `json:"errors,omitempty"`
}

// TaskEvent is the payload of task lifecycle events on the bus.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Trigger  task.Trigger  `json:"trigger,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled        bool
	Started        bool
	Timezone       string
	TickInterval   time.Duration
	Running        []string
	Indexed        int
	DependencyOnly int
	Parked         int
	NextWake       *time.Time
	Supervisor     supervisor.Counters
}

type Service struct {
	mu sync.Mutex

	log      logx.Logger
	cfg      Config
	bus      eventbus.Bus
	store    *store.Store
	exec     Executor
	resolver *deps.Resolver
	alert    Alerter
	now      func() time.Time

	sup     *supervisor.Supervisor
	started bool

	index   *index
	depOnly map[string]struct{}
	// parked holds due tasks whose prerequisites are unmet; re-checked every tick.
	parked  map[string]struct{}
	running *runSet
	runs    sync.WaitGroup
	wake    chan struct{}
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }
func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }
func WithAlerter(a Alerter) Option { return func(s *Service) { s.alert = a } }

// WithClock replaces time.Now for trigger computations.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
