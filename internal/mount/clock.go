package mount

import (
	"fmt"
	"math"
	"time"

	"github.com/fisaks/mountlink/internal/util"
)

// unixEpochJD is the Julian date of 1970-01-01T00:00:00Z.
const unixEpochJD = 2440587.5

// ClockSample pairs the local time a reply was received with the mount time
// it carried.
type ClockSample struct {
	Local time.Time `json:"local"`
	Mount time.Time `json:"mount"`
}

// Delta is local minus mount.
func (c ClockSample) Delta() time.Duration {
	return c.Local.Sub(c.Mount)
}

type Clock struct {
	holder[ClockSample]
	conn Communicator
	now  func() time.Time
}

func NewClock(conn Communicator) *Clock {
	return &Clock{conn: conn, now: time.Now}
}

func (c *Clock) Poll() (bool, error) {
	chunks, err := query(c.conn, ":GJD1#", 1)
	local := c.now()
	if err != nil {
		return false, err
	}
	jd, err := util.ParseFloat(chunks[0])
	if err != nil {
		return false, fmt.Errorf("julian date: %w", err)
	}
	c.set(ClockSample{Local: local, Mount: JulianToTime(jd)})
	return true, nil
}

func JulianToTime(jd float64) time.Time {
	days := jd - unixEpochJD
	sec, frac := math.Modf(days * 86400)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

func TimeToJulian(t time.Time) float64 {
	return float64(t.UnixNano())/float64(24*time.Hour) + unixEpochJD
}
