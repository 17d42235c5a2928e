package main

import (
	"sync"
	"time"

	"github.com/fisaks/mountlink/internal/dome"
)

const (
	// azimuth moved per tick, in tenths of a degree
	slewStep = 5
	// ticks an opening or closing shutter takes
	shutterTicks = 30
)

// domeSim animates the dome register bank. holding and coils alias the
// Modbus server's own tables, so clients see every change.
type domeSim struct {
	mu      sync.Mutex
	holding []uint16
	coils   []byte
	target  uint16
	moving  int
}

func newDomeSim(holding []uint16, coils []byte) *domeSim {
	s := &domeSim{holding: holding, coils: coils}
	s.holding[dome.RegAzimuth] = 1800
	s.holding[dome.RegTarget] = 1800
	s.holding[dome.RegShutter] = uint16(dome.ShutterClosed)
	s.target = 1800
	return s
}

func (s *domeSim) run(stop <-chan struct{}, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.step()
		}
	}
}

// step advances the simulation by one tick.
func (s *domeSim) step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	az := s.holding[dome.RegAzimuth] % 3600
	target := s.holding[dome.RegTarget] % 3600
	if target != az {
		s.holding[dome.RegAzimuth] = approach(az, target)
		s.holding[dome.RegSlewing] = 1
	} else {
		s.holding[dome.RegSlewing] = 0
	}

	shutter := dome.Shutter(s.holding[dome.RegShutter])
	wantOpen := s.coils[dome.CoilShutter] != 0
	switch {
	case wantOpen && (shutter == dome.ShutterClosed || shutter == dome.ShutterClosing):
		s.holding[dome.RegShutter] = uint16(dome.ShutterOpening)
		s.moving = shutterTicks
	case !wantOpen && (shutter == dome.ShutterOpen || shutter == dome.ShutterOpening):
		s.holding[dome.RegShutter] = uint16(dome.ShutterClosing)
		s.moving = shutterTicks
	case shutter == dome.ShutterOpening || shutter == dome.ShutterClosing:
		s.moving--
		if s.moving <= 0 {
			if shutter == dome.ShutterOpening {
				s.holding[dome.RegShutter] = uint16(dome.ShutterOpen)
			} else {
				s.holding[dome.RegShutter] = uint16(dome.ShutterClosed)
			}
		}
	}
}

// approach moves az toward target along the shorter way round.
func approach(az, target uint16) uint16 {
	diff := (int(target) - int(az) + 3600) % 3600
	if diff <= slewStep || diff >= 3600-slewStep {
		return target
	}
	if diff < 1800 {
		return (az + slewStep) % 3600
	}
	return (az + 3600 - slewStep) % 3600
}

type simState struct {
	Azimuth float64 `json:"azimuth"`
	Target  float64 `json:"target"`
	Shutter string  `json:"shutter"`
	Slewing bool    `json:"slewing"`
	Error   uint16  `json:"error"`
}

func (s *domeSim) snapshot() simState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return simState{
		Azimuth: float64(s.holding[dome.RegAzimuth]) / 10,
		Target:  float64(s.holding[dome.RegTarget]) / 10,
		Shutter: dome.Shutter(s.holding[dome.RegShutter]).String(),
		Slewing: s.holding[dome.RegSlewing] != 0,
		Error:   s.holding[dome.RegError],
	}
}

type simPatch struct {
	Azimuth *float64 `json:"azimuth,omitempty"`
	Target  *float64 `json:"target,omitempty"`
	Shutter *bool    `json:"shutterOpen,omitempty"`
	Error   *uint16  `json:"error,omitempty"`
}

func (s *domeSim) apply(p simPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Azimuth != nil {
		s.holding[dome.RegAzimuth] = tenths(*p.Azimuth)
	}
	if p.Target != nil {
		s.holding[dome.RegTarget] = tenths(*p.Target)
	}
	if p.Shutter != nil {
		s.coils[dome.CoilShutter] = 0
		if *p.Shutter {
			s.coils[dome.CoilShutter] = 1
		}
	}
	if p.Error != nil {
		s.holding[dome.RegError] = *p.Error
	}
}

func tenths(deg float64) uint16 {
	v := int(deg*10) % 3600
	if v < 0 {
		v += 3600
	}
	return uint16(v)
}
