package mount

import (
	"fmt"
	"strings"
)

// tleSeparator stands in for line feeds inside TLE commands and replies.
const tleSeparator = "$0A"

type TLE struct {
	Loaded bool   `json:"loaded"`
	Name   string `json:"name,omitempty"`
	Line1  string `json:"line1,omitempty"`
	Line2  string `json:"line2,omitempty"`
}

type Satellite struct {
	holder[TLE]
	conn Communicator
}

func NewSatellite(conn Communicator) *Satellite {
	return &Satellite{conn: conn}
}

func (s *Satellite) Poll() (bool, error) {
	chunks, err := query(s.conn, ":TLEG#", 1)
	if err != nil {
		return false, err
	}
	tle, err := parseTLE(chunks[0])
	if err != nil {
		return false, err
	}
	s.set(tle)
	return true, nil
}

func parseTLE(s string) (TLE, error) {
	if s == "E" {
		return TLE{}, nil
	}
	lines := strings.Split(strings.ReplaceAll(s, "$0a", tleSeparator), tleSeparator)
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) != 3 {
		return TLE{}, fmt.Errorf("%w: tle has %d lines", ErrChunkCount, len(lines))
	}
	return TLE{
		Loaded: true,
		Name:   strings.TrimSpace(lines[0]),
		Line1:  lines[1],
		Line2:  lines[2],
	}, nil
}

// SetTLE uploads the element set. The mount answers "V" once it accepted it.
func (s *Satellite) SetTLE(tle TLE) error {
	for _, part := range []string{tle.Name, tle.Line1, tle.Line2} {
		if part == "" || strings.ContainsAny(part, "#\n") {
			return fmt.Errorf("invalid tle line %q", part)
		}
	}
	batch := ":TLEL0" + tle.Name + tleSeparator + tle.Line1 + tleSeparator + tle.Line2 + tleSeparator + "#"
	return command(s.conn, batch, "V")
}

// StartTracking follows the loaded satellite.
func (s *Satellite) StartTracking() error {
	return command(s.conn, ":TLES#", "V")
}
