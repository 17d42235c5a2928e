package poller

import (
	"context"
	"runtime"
	"time"

	"github.com/fisaks/mountlink/internal/events"
	"github.com/fisaks/mountlink/internal/logging"
	"github.com/fisaks/mountlink/internal/mount"
)

const settleKey = "slew-settle"

// clockCorrection is added to the local receive time of a clock sample.
var clockCorrection = platformClockCorrection()

func platformClockCorrection() time.Duration {
	if runtime.GOOS == "windows" {
		return 10 * time.Millisecond
	}
	return 5 * time.Millisecond
}

// alertStatus are the status codes that raise an alert on their rising edge.
var alertStatus = map[int]bool{
	mount.StatusMotorsInhibit: true,
	mount.StatusOutsideLimits: true,
	mount.StatusNeedsUserOK:   true,
	mount.StatusError:         true,
}

// applyLiveness publishes the first liveness result whatever its value, and
// after that only transitions.
func (o *Orchestrator) applyLiveness(ctx context.Context, up bool) {
	if o.livenessKnown && up == o.up {
		return
	}
	o.livenessKnown = true
	wasUp := o.up
	o.up = up
	logging.Info("Mount liveness changed", "up", up)
	o.publish(events.Liveness, events.LivenessPayload{Up: up})
	if !up {
		o.bootstrap = nil
		return
	}
	if wasUp {
		return
	}
	o.bootstrap = append([]job(nil), bootstrapSequence...)
	o.nextBootstrap(ctx)
}

// nextBootstrap starts the head of the bootstrap chain. If that job is
// already in flight its pending result completes the step instead.
func (o *Orchestrator) nextBootstrap(ctx context.Context) {
	if len(o.bootstrap) == 0 || !o.up {
		return
	}
	o.tick(ctx, o.bootstrap[0])
}

func (o *Orchestrator) apply(j job) {
	switch j {
	case jobPointing:
		o.applyPointing(o.subs.Pointing.State())
	case jobDome:
		o.publish(events.Dome, o.subs.Dome.State())
	case jobClock:
		o.clock.push(o.subs.Clock.State().Delta() + clockCorrection)
	case jobSettings:
		o.publish(events.Settings, o.subs.Settings.State())
	case jobFirmware:
		fw := o.subs.Firmware.State()
		logging.Info("Mount firmware", "product", fw.Product, "number", fw.Number)
		o.publish(events.Firmware, fw)
	case jobLocation:
		o.publish(events.Location, o.subs.Location.State())
	case jobModel:
		o.publish(events.Model, o.subs.Model.State())
	case jobNames:
		o.publish(events.NameList, o.subs.Names.State())
	case jobTLE:
		o.publish(events.TLE, o.subs.Satellite.State())
	}
}

func (o *Orchestrator) applyPointing(pos mount.Position) {
	o.publish(events.Pointing, pos)

	switch {
	case pos.Slewing && !o.slewing:
		o.slewStartPier = pos.PierSide
		if o.settleID != 0 {
			o.scheduler.Cancel(settleKey)
			o.settleID = 0
		}
	case !pos.Slewing && o.slewing:
		o.slewFinished(pos)
	}
	o.slewing = pos.Slewing

	alert := alertStatus[pos.Status]
	if alert && !o.alert {
		logging.Warn("Mount alert", "status", pos.Status, "text", pos.StatusText())
		o.publish(events.Alert, events.AlertPayload{Status: pos.Status, Text: pos.StatusText()})
	}
	o.alert = alert
}

func (o *Orchestrator) slewFinished(pos mount.Position) {
	payload := events.SettledPayload{
		Flipped:  pos.PierSide != o.slewStartPier,
		PierSide: pos.PierSide,
	}
	if !payload.Flipped || o.opts.SettleFlip == 0 {
		o.publish(events.SlewSettled, payload)
		return
	}
	logging.Debug("Pier flip, delaying settled", "delay", o.opts.SettleFlip)
	o.settle = payload
	o.settleID = o.scheduler.Schedule(settleKey, o.opts.SettleFlip, func(id uint64) {
		select {
		case o.fired <- id:
		case <-o.stopped:
		}
	})
}

// settled runs on the control goroutine when a settle timer fired. A timer
// superseded by a newer slew is ignored.
func (o *Orchestrator) settled(id uint64) {
	if id == 0 || id != o.settleID {
		return
	}
	o.settleID = 0
	o.publish(events.SlewSettled, o.settle)
	o.storeSnapshot()
}

// clockRing keeps the last n clock deltas.
type clockRing struct {
	samples []time.Duration
	next    int
	full    bool
}

func newClockRing(n int) clockRing {
	return clockRing{samples: make([]time.Duration, n)}
}

func (r *clockRing) push(d time.Duration) {
	r.samples[r.next] = d
	r.next = (r.next + 1) % len(r.samples)
	if r.next == 0 {
		r.full = true
	}
}

func (r *clockRing) len() int {
	if r.full {
		return len(r.samples)
	}
	return r.next
}

func (r *clockRing) mean() time.Duration {
	n := r.len()
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range r.samples[:n] {
		sum += d
	}
	return sum / time.Duration(n)
}
