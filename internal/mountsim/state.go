package mountsim

import (
	"time"
)

// Star is one alignment point held by the simulated model.
type Star struct {
	HA       float64 // hours
	Dec      float64 // degrees
	ErrorRMS float64 // arcsec
	Angle    float64 // degrees
}

// State is everything the simulator answers from. Tests mutate it through
// Server.Update.
type State struct {
	// firmware
	Product  string
	Number   string
	Date     string
	Time     string
	Hardware string

	// site, longitude is east positive here and sent west positive on the wire
	Elevation float64
	Longitude float64
	Latitude  float64

	// pointing
	Sidereal float64 // hours
	RA       float64 // hours
	Dec      float64 // degrees
	Az       float64
	Alt      float64
	PierSide byte // 'E' or 'W'
	Status   int
	Slewing  bool

	TargetRA  float64
	TargetDec float64
	SlewTime  time.Duration
	slewEnd   time.Time
	slewPier  byte

	// ClockOffset is added to the local clock when answering :GJD1#.
	ClockOffset time.Duration

	// settings
	SlewRate         int
	MeridianTrack    int
	MeridianSlew     int
	RefractionTemp   float64
	RefractionPress  float64
	Temperature      float64
	Refraction       bool
	UnattendedFlip   bool
	DualAxis         bool
	HorizonHigh      int
	HorizonLow       int
	TrackingRate     float64
	UTCExpiry        string
	RejectSetCommand bool // answer "0" to every setter

	// model
	Stars []Star
	Names []string

	// satellite, empty TLE means none loaded
	TLE string
}

// DefaultState is a parked-off, tracking mount at a mid-European site.
func DefaultState() State {
	return State{
		Product:  "10micron GM1000HPS",
		Number:   "3.0.4",
		Date:     "Mar 19 2021",
		Time:     "15:56:53",
		Hardware: "Q-TYPE2012",

		Elevation: 46.2,
		Longitude: 8.6,
		Latitude:  49.91,

		Sidereal: 12.0,
		RA:       11.5,
		Dec:      45.0,
		Az:       180.0,
		Alt:      45.0,
		PierSide: 'W',
		Status:   0,
		SlewTime: 200 * time.Millisecond,

		SlewRate:        10,
		MeridianTrack:   5,
		MeridianSlew:    5,
		RefractionTemp:  10.0,
		RefractionPress: 1013.2,
		Temperature:     9.5,
		Refraction:      true,
		UnattendedFlip:  false,
		DualAxis:        true,
		HorizonHigh:     85,
		HorizonLow:      5,
		TrackingRate:    60.2,
		UTCExpiry:       "V,2027-01-01",

		Stars: []Star{
			{HA: 1.5, Dec: 30, ErrorRMS: 4.2, Angle: 45},
			{HA: -2.25, Dec: 60, ErrorRMS: 7.9, Angle: 270},
			{HA: 4, Dec: -10, ErrorRMS: 3.1, Angle: 120},
		},
		Names: []string{"default", "winter-2025"},
	}
}

// advance finishes a slew whose time has passed.
func (s *State) advance(now time.Time) {
	if !s.Slewing || now.Before(s.slewEnd) {
		return
	}
	s.Slewing = false
	s.Status = 0
	s.RA = s.TargetRA
	s.Dec = s.TargetDec
	s.PierSide = s.slewPier
}

// startSlew begins a slew to the stored target. The pier side after the slew
// follows the hour angle of the target.
func (s *State) startSlew(now time.Time) {
	s.Slewing = true
	s.Status = 6
	s.slewEnd = now.Add(s.SlewTime)
	ha := s.Sidereal - s.TargetRA
	if ha < 0 {
		s.slewPier = 'W'
	} else {
		s.slewPier = 'E'
	}
}
