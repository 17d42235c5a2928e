package mount

import (
	"fmt"
	"strings"

	"github.com/fisaks/mountlink/internal/util"
)

const pointingBatch = ":U2#:GS#:Ginfo#"

// Status codes reported in :Ginfo#.
const (
	StatusTracking      = 0
	StatusStopped       = 1
	StatusParking       = 2
	StatusUnparking     = 3
	StatusSlewingHome   = 4
	StatusParked        = 5
	StatusSlewing       = 6
	StatusTrackingOff   = 7
	StatusMotorsInhibit = 8
	StatusOutsideLimits = 9
	StatusSatellite     = 10
	StatusNeedsUserOK   = 11
	StatusUnknown       = 98
	StatusError         = 99
)

var statusText = map[int]string{
	StatusTracking:      "tracking",
	StatusStopped:       "stopped",
	StatusParking:       "slewing to park",
	StatusUnparking:     "unparking",
	StatusSlewingHome:   "slewing to home",
	StatusParked:        "parked",
	StatusSlewing:       "slewing",
	StatusTrackingOff:   "tracking off",
	StatusMotorsInhibit: "motors inhibited",
	StatusOutsideLimits: "outside tracking limits",
	StatusSatellite:     "following satellite",
	StatusNeedsUserOK:   "needs user confirmation",
	StatusUnknown:       "unknown",
	StatusError:         "error",
}

func StatusText(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return fmt.Sprintf("status %d", code)
}

type Position struct {
	Sidereal float64 `json:"sidereal"` // hours
	RA       float64 `json:"ra"`       // hours, JNow
	Dec      float64 `json:"dec"`      // degrees, JNow
	PierSide string  `json:"pierSide"` // "E" or "W"
	Az       float64 `json:"az"`
	Alt      float64 `json:"alt"`
	JD       float64 `json:"jd"`
	Status   int     `json:"status"`
	Slewing  bool    `json:"slewing"`
}

func (p Position) StatusText() string { return StatusText(p.Status) }

type Pointing struct {
	holder[Position]
	conn Communicator
}

func NewPointing(conn Communicator) *Pointing {
	return &Pointing{conn: conn}
}

func (p *Pointing) Poll() (bool, error) {
	chunks, err := query(p.conn, pointingBatch, 2)
	if err != nil {
		return false, err
	}
	pos, err := parsePosition(chunks[0], chunks[1])
	if err != nil {
		return false, err
	}
	p.set(pos)
	return true, nil
}

func parsePosition(sidereal, info string) (Position, error) {
	var pos Position
	var err error
	if pos.Sidereal, err = util.ParseSexagesimal(sidereal); err != nil {
		return pos, fmt.Errorf("sidereal time: %w", err)
	}
	f := strings.Split(info, ",")
	if len(f) != 8 {
		return pos, fmt.Errorf("%w: info has %d fields", ErrChunkCount, len(f))
	}
	if pos.RA, err = util.ParseFloat(f[0]); err != nil {
		return pos, fmt.Errorf("ra: %w", err)
	}
	if pos.Dec, err = util.ParseFloat(f[1]); err != nil {
		return pos, fmt.Errorf("dec: %w", err)
	}
	switch f[2] {
	case "E", "W":
		pos.PierSide = f[2]
	default:
		return pos, fmt.Errorf("pier side %q", f[2])
	}
	if pos.Az, err = util.ParseFloat(f[3]); err != nil {
		return pos, fmt.Errorf("az: %w", err)
	}
	if pos.Alt, err = util.ParseFloat(f[4]); err != nil {
		return pos, fmt.Errorf("alt: %w", err)
	}
	if pos.JD, err = util.ParseFloat(f[5]); err != nil {
		return pos, fmt.Errorf("jd: %w", err)
	}
	if pos.Status, err = util.ParseInt(f[6]); err != nil {
		return pos, fmt.Errorf("status: %w", err)
	}
	if pos.Slewing, err = util.ParseFlag(f[7]); err != nil {
		return pos, fmt.Errorf("slewing: %w", err)
	}
	return pos, nil
}

func (p *Pointing) Park() error          { return command(p.conn, ":KA#", "") }
func (p *Pointing) Unpark() error        { return command(p.conn, ":PO#", "") }
func (p *Pointing) StartTracking() error { return command(p.conn, ":AP#", "") }
func (p *Pointing) StopTracking() error  { return command(p.conn, ":RT9#", "") }
func (p *Pointing) Stop() error          { return command(p.conn, ":STOP#", "") }
func (p *Pointing) Flip() error          { return command(p.conn, ":FLIP#", "1") }

// SlewRaDec sets the target and starts the slew. ra in hours, dec in degrees.
func (p *Pointing) SlewRaDec(ra, dec float64) error {
	batch := fmt.Sprintf(":Sr%s#:Sd%s#:MS#",
		util.FormatSexagesimal(ra, ":", false, 2),
		util.FormatSexagesimal(dec, "*", true, 1))
	return command(p.conn, batch, "110")
}

// GuidePulse moves in direction n, s, e or w for ms milliseconds.
func (p *Pointing) GuidePulse(direction byte, ms int) error {
	switch direction {
	case 'n', 's', 'e', 'w':
	default:
		return fmt.Errorf("guide direction %q", direction)
	}
	if ms < 0 || ms > 9999 {
		return fmt.Errorf("guide duration %d ms out of range", ms)
	}
	return command(p.conn, fmt.Sprintf(":Mg%c%04d#", direction, ms), "")
}
