package jobs

import (
	"time"

	rtsup "idlejob/internal/runtime/supervisor"
)

const (
	DefaultUnit            = time.Second
	DefaultMinInterval     = 1
	DefaultMaxInterval     = 15
	DefaultStartTimeout    = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultTickLogEvery    = time.Minute
)

// Event types published on the event bus.
const (
	EventJobAdded   = "job.added"
	EventJobRemoved = "job.removed"
	EventInit       = "jobs.init"
	EventTick       = "jobs.tick"
	EventShutdown   = "jobs.shutdown"
)

// Config controls the worker cadence and lifecycle bounds.
//
// Intervals are counted in Unit: the sleep after a tick is between
// MinInterval*Unit and MaxInterval*Unit.
type Config struct {
	Unit        time.Duration
	MinInterval int
	MaxInterval int

	// IdlePriority requests the idle scheduling class for the worker thread.
	IdlePriority bool

	StartTimeout    time.Duration
	ShutdownTimeout time.Duration

	// TickLogEvery bounds how often a tick summary is logged at debug level.
	TickLogEvery time.Duration
}

// DefaultConfig returns the classic cadence: 1s floor, 15s ceiling, idle priority.
func DefaultConfig() Config {
	return Config{
		Unit:            DefaultUnit,
		MinInterval:     DefaultMinInterval,
		MaxInterval:     DefaultMaxInterval,
		IdlePriority:    true,
		StartTimeout:    DefaultStartTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		TickLogEvery:    DefaultTickLogEvery,
	}
}

func (c Config) withDefaults() Config {
	if c.Unit <= 0 {
		c.Unit = DefaultUnit
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.TickLogEvery <= 0 {
		c.TickLogEvery = DefaultTickLogEvery
	}
	return c
}

// JobEvent is published for job.added and job.removed.
type JobEvent struct {
	Name  string
	Count int // entries added or removed
	Jobs  int // registry size afterwards
}

// TickEvent is published after every tick, before the worker sleeps.
type TickEvent struct {
	Seq     uint64
	Jobs    int
	HadWork bool
	Took    time.Duration
	Sleep   time.Duration
}

// LifecycleEvent is published for jobs.init and jobs.shutdown.
type LifecycleEvent struct {
	Jobs    int // registered jobs at init, drained jobs at shutdown
	Error   string
	Elapsed time.Duration
}

// Snapshot is a point-in-time view of a Scheduler, for status output.
type Snapshot struct {
	Running    bool          `json:"running"`
	Jobs       int           `json:"jobs"`
	Ticks      uint64        `json:"ticks"`
	WorkTicks  uint64        `json:"work_ticks"`
	Invoked    uint64        `json:"invoked"`
	Interrupts uint64        `json:"interrupts"`
	Interval   time.Duration `json:"interval"`
	LastTick   time.Time     `json:"last_tick"`

	Unit        time.Duration `json:"unit"`
	MinInterval int           `json:"min_interval"`
	MaxInterval int           `json:"max_interval"`

	Worker rtsup.SupervisorSnapshot `json:"worker"`
}
