package poller

import (
	"time"

	"github.com/fisaks/mountlink/internal/dome"
	"github.com/fisaks/mountlink/internal/mount"
)

// Source is a sub-state: Poll refreshes it from the device and State returns
// the last successfully parsed value.
type Source[T any] interface {
	Poll() (bool, error)
	State() T
}

// Reachability is the bare check behind the liveness cycle.
type Reachability interface {
	Reachable() bool
}

// SubStates is the fixed set of sub-states the orchestrator drives. Dome is
// nil when no dome is configured.
type SubStates struct {
	Firmware  Source[mount.FirmwareInfo]
	Location  Source[mount.Site]
	Pointing  Source[mount.Position]
	Settings  Source[mount.Setup]
	Model     Source[mount.AlignModel]
	Names     Source[mount.NameListState]
	Satellite Source[mount.TLE]
	Clock     Source[mount.ClockSample]
	Dome      Source[dome.Status]
}

type Options struct {
	Pointing time.Duration
	Dome     time.Duration
	Clock    time.Duration
	Liveness time.Duration
	Settings time.Duration

	Workers      int
	SettleFlip   time.Duration
	ClockSamples int
}

func (o Options) withDefaults() Options {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&o.Pointing, 500*time.Millisecond)
	def(&o.Dome, 950*time.Millisecond)
	def(&o.Clock, time.Second)
	def(&o.Liveness, time.Second)
	def(&o.Settings, 3*time.Second)
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.SettleFlip < 0 {
		o.SettleFlip = 0
	}
	if o.ClockSamples <= 0 {
		o.ClockSamples = 5
	}
	return o
}

// job identifies one kind of poll. Every job has its own guard, so at most
// one poll of a kind is in flight.
type job int

const (
	jobPointing job = iota
	jobDome
	jobClock
	jobSettings
	jobLiveness
	jobFirmware
	jobLocation
	jobModel
	jobNames
	jobTLE

	numJobs
)

var jobLabels = [numJobs]string{
	jobPointing: "pointing",
	jobDome:     "dome",
	jobClock:    "clock",
	jobSettings: "settings",
	jobLiveness: "liveness",
	jobFirmware: "firmware",
	jobLocation: "location",
	jobModel:    "model",
	jobNames:    "names",
	jobTLE:      "tle",
}

func (j job) String() string { return jobLabels[j] }

// bootstrapSequence runs once on every unreachable to reachable edge.
var bootstrapSequence = []job{jobFirmware, jobLocation, jobModel, jobNames, jobTLE}

type result struct {
	job job
	ok  bool
	err error
}

// Snapshot is a copy of the orchestrator state for readers on any goroutine.
type Snapshot struct {
	Up            bool                `json:"up"`
	TimeDiff      time.Duration       `json:"timeDiff"` // local minus mount, smoothed
	ClockSamples  int                 `json:"clockSamples"`
	Slewing       bool                `json:"slewing"`
	SettlePending bool                `json:"settlePending"`
	Alert         bool                `json:"alert"`
	Firmware      mount.FirmwareInfo  `json:"firmware"`
	Location      mount.Site          `json:"location"`
	Position      mount.Position      `json:"position"`
	Settings      mount.Setup         `json:"settings"`
	Model         mount.AlignModel    `json:"model"`
	Names         mount.NameListState `json:"names"`
	TLE           mount.TLE           `json:"tle"`
	Dome          *dome.Status        `json:"dome,omitempty"`
}
