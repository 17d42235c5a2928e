package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fisaks/mountlink/internal/events"
	"github.com/fisaks/mountlink/internal/logging"
)

// Orchestrator drives the refresh cycles of one mount.
//
// All mutable state below the "control goroutine" marker is owned by the
// goroutine running Run; polls run on the worker pool and hand their result
// back through results.
type Orchestrator struct {
	opts  Options
	subs  SubStates
	reach Reachability
	bus   *events.Bus

	sem     *semaphore.Weighted
	guards  [numJobs]sync.Mutex
	results chan result
	// requests carries on-demand refreshes into the control goroutine.
	requests chan job
	fired    chan uint64
	stopped  chan struct{}

	scheduler Scheduler
	snapshot  atomic.Pointer[Snapshot]

	// control goroutine
	inflight      int
	up            bool
	livenessKnown bool
	bootstrap     []job
	clock         clockRing
	slewing       bool
	slewStartPier string
	settleID      uint64
	settle        events.SettledPayload
	alert         bool
}

func New(subs SubStates, reach Reachability, bus *events.Bus, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	o := &Orchestrator{
		opts:      opts,
		subs:      subs,
		reach:     reach,
		bus:       bus,
		sem:       semaphore.NewWeighted(int64(opts.Workers)),
		results:   make(chan result, numJobs),
		requests:  make(chan job, numJobs),
		fired:     make(chan uint64, 1),
		stopped:   make(chan struct{}),
		scheduler: NewScheduler(),
		clock:     newClockRing(opts.ClockSamples),
	}
	o.snapshot.Store(&Snapshot{})
	return o
}

// Run ticks the cycles until ctx is done. Liveness is checked immediately.
func (o *Orchestrator) Run(ctx context.Context) {
	type cycle struct {
		job    job
		period time.Duration
	}
	cycles := []cycle{
		{jobLiveness, o.opts.Liveness},
		{jobPointing, o.opts.Pointing},
		{jobClock, o.opts.Clock},
		{jobSettings, o.opts.Settings},
	}
	if o.subs.Dome != nil {
		cycles = append(cycles, cycle{jobDome, o.opts.Dome})
	}
	tickCh := make(chan job, len(cycles))
	var wg sync.WaitGroup
	for _, c := range cycles {
		wg.Add(1)
		go func(c cycle) {
			defer wg.Done()
			t := time.NewTicker(c.period)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					select {
					case tickCh <- c.job: // drop if the control goroutine is behind
					default:
					}
				}
			}
		}(c)
	}
	logging.Info("Orchestrator started",
		"pointing", o.opts.Pointing, "clock", o.opts.Clock, "settings", o.opts.Settings,
		"liveness", o.opts.Liveness, "dome", o.subs.Dome != nil, "workers", o.opts.Workers)

	o.tick(ctx, jobLiveness)
	for {
		select {
		case <-ctx.Done():
			o.scheduler.Stop()
			close(o.stopped)
			wg.Wait()
			logging.Info("Orchestrator stopped", "inflight", o.inflight)
			return
		case j := <-tickCh:
			o.tick(ctx, j)
		case j := <-o.requests:
			o.tick(ctx, j)
		case r := <-o.results:
			o.handle(ctx, r)
		case id := <-o.fired:
			o.settled(id)
		}
	}
}

// request queues an out-of-cycle poll; false if the queue is full.
func (o *Orchestrator) request(j job) bool {
	select {
	case o.requests <- j:
		return true
	default:
		logging.Warn("Refresh request dropped", "job", j)
		return false
	}
}

func (o *Orchestrator) RefreshModel() bool    { return o.request(jobModel) }
func (o *Orchestrator) RefreshNames() bool    { return o.request(jobNames) }
func (o *Orchestrator) RefreshTLE() bool      { return o.request(jobTLE) }
func (o *Orchestrator) RefreshSettings() bool { return o.request(jobSettings) }

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.snapshot.Load()
}

// tick starts job unless it is gated or already in flight. A busy job is
// skipped, never queued.
func (o *Orchestrator) tick(ctx context.Context, j job) bool {
	switch j {
	case jobLiveness:
	case jobDome:
		if o.subs.Dome == nil {
			return false
		}
	default:
		if !o.up {
			return false
		}
	}
	if !o.guards[j].TryLock() {
		logging.Debug("Poll skipped, previous still running", "job", j)
		return false
	}
	o.inflight++
	go o.work(ctx, j)
	return true
}

func (o *Orchestrator) work(ctx context.Context, j job) {
	r := result{job: j}
	defer func() {
		if p := recover(); p != nil {
			r.ok, r.err = false, fmt.Errorf("poll %s panicked: %v", j, p)
		}
		// buffered for one result per job, never blocks
		o.results <- r
	}()
	if err := o.sem.Acquire(ctx, 1); err != nil {
		r.err = err
		return
	}
	defer o.sem.Release(1)
	r.ok, r.err = o.poll(j)
}

func (o *Orchestrator) poll(j job) (bool, error) {
	switch j {
	case jobLiveness:
		return o.reach.Reachable(), nil
	case jobPointing:
		return o.subs.Pointing.Poll()
	case jobDome:
		return o.subs.Dome.Poll()
	case jobClock:
		return o.subs.Clock.Poll()
	case jobSettings:
		return o.subs.Settings.Poll()
	case jobFirmware:
		return o.subs.Firmware.Poll()
	case jobLocation:
		return o.subs.Location.Poll()
	case jobModel:
		return o.subs.Model.Poll()
	case jobNames:
		return o.subs.Names.Poll()
	case jobTLE:
		return o.subs.Satellite.Poll()
	}
	return false, fmt.Errorf("unknown job %d", j)
}

// handle applies one poll result. The guard is released whatever the result.
func (o *Orchestrator) handle(ctx context.Context, r result) {
	o.guards[r.job].Unlock()
	o.inflight--

	if r.job == jobLiveness {
		o.applyLiveness(ctx, r.ok)
	} else if !r.ok {
		logging.Warn("Poll failed", "job", r.job, "error", r.err)
	} else {
		o.apply(r.job)
	}

	if len(o.bootstrap) > 0 && o.bootstrap[0] == r.job {
		o.bootstrap = o.bootstrap[1:]
		o.nextBootstrap(ctx)
	}
	o.storeSnapshot()
}

func (o *Orchestrator) publish(kind events.Kind, payload any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{Kind: kind, At: time.Now(), Payload: payload})
}

func (o *Orchestrator) storeSnapshot() {
	s := &Snapshot{
		Up:            o.up,
		TimeDiff:      o.clock.mean(),
		ClockSamples:  o.clock.len(),
		Slewing:       o.slewing,
		SettlePending: o.settleID != 0,
		Alert:         o.alert,
	}
	if o.subs.Firmware != nil {
		s.Firmware = o.subs.Firmware.State()
	}
	if o.subs.Location != nil {
		s.Location = o.subs.Location.State()
	}
	if o.subs.Pointing != nil {
		s.Position = o.subs.Pointing.State()
	}
	if o.subs.Settings != nil {
		s.Settings = o.subs.Settings.State()
	}
	if o.subs.Model != nil {
		s.Model = o.subs.Model.State()
	}
	if o.subs.Names != nil {
		s.Names = o.subs.Names.State()
	}
	if o.subs.Satellite != nil {
		s.TLE = o.subs.Satellite.State()
	}
	if o.subs.Dome != nil {
		st := o.subs.Dome.State()
		s.Dome = &st
	}
	o.snapshot.Store(s)
}
