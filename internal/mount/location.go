package mount

import (
	"fmt"

	"github.com/fisaks/mountlink/internal/util"
)

const locationBatch = ":U2#:Gev#:Gg#:Gt#"

// Site is the observing location. Longitude is east positive; the mount
// reports it west positive.
type Site struct {
	Elevation float64 `json:"elevation"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

type Location struct {
	holder[Site]
	conn Communicator
}

func NewLocation(conn Communicator) *Location {
	return &Location{conn: conn}
}

func (l *Location) Poll() (bool, error) {
	chunks, err := query(l.conn, locationBatch, 3)
	if err != nil {
		return false, err
	}
	elev, err := util.ParseFloat(chunks[0])
	if err != nil {
		return false, fmt.Errorf("elevation: %w", err)
	}
	lon, err := util.ParseSexagesimal(chunks[1])
	if err != nil {
		return false, fmt.Errorf("longitude: %w", err)
	}
	lat, err := util.ParseSexagesimal(chunks[2])
	if err != nil {
		return false, fmt.Errorf("latitude: %w", err)
	}
	l.set(Site{Elevation: elev, Longitude: -lon, Latitude: lat})
	return true, nil
}

// SetSite writes elevation, longitude and latitude in one batch.
func (l *Location) SetSite(s Site) error {
	batch := fmt.Sprintf(":Sev%+07.1f#:Sg%s#:St%s#",
		s.Elevation,
		util.FormatSexagesimal(-s.Longitude, "*", true, 1),
		util.FormatSexagesimal(s.Latitude, "*", true, 1))
	return command(l.conn, batch, "111")
}
