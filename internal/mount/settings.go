package mount

import (
	"fmt"
	"strings"

	"github.com/fisaks/mountlink/internal/util"
)

const settingsBatch = ":U2#:GMs#:Glmt#:Glms#:GRTMP#:GRPRS#:GTMP1#:GREF#:Guaf#:Gdat#:Gh#:Go#:GT#:GDUTV#"

type Setup struct {
	SlewRate        int     `json:"slewRate"`        // degrees per second
	MeridianTrack   int     `json:"meridianTrack"`   // degrees past the meridian while tracking
	MeridianSlew    int     `json:"meridianSlew"`    // degrees past the meridian for slews
	RefractionTemp  float64 `json:"refractionTemp"`  // °C
	RefractionPress float64 `json:"refractionPress"` // hPa
	Temperature     float64 `json:"temperature"`     // °C, mount electronics
	Refraction      bool    `json:"refraction"`
	UnattendedFlip  bool    `json:"unattendedFlip"`
	DualAxis        bool    `json:"dualAxis"`
	HorizonHigh     int     `json:"horizonHigh"`
	HorizonLow      int     `json:"horizonLow"`
	TrackingRate    float64 `json:"trackingRate"` // Hz
	UTCValid        bool    `json:"utcValid"`
	UTCExpiry       string  `json:"utcExpiry"`
}

type Settings struct {
	holder[Setup]
	conn Communicator
}

func NewSettings(conn Communicator) *Settings {
	return &Settings{conn: conn}
}

func (s *Settings) Poll() (bool, error) {
	chunks, err := query(s.conn, settingsBatch, 13)
	if err != nil {
		return false, err
	}
	setup, err := parseSetup(chunks)
	if err != nil {
		return false, err
	}
	s.set(setup)
	return true, nil
}

// fieldParser collects the first error so a long parse reads linearly.
type fieldParser struct {
	err error
}

func (p *fieldParser) int(name, s string) int {
	v, err := util.ParseInt(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (p *fieldParser) float(name, s string) float64 {
	v, err := util.ParseFloat(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (p *fieldParser) flag(name, s string) bool {
	v, err := util.ParseFlag(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func parseSetup(c []string) (Setup, error) {
	var p fieldParser
	setup := Setup{
		SlewRate:        p.int("slew rate", c[0]),
		MeridianTrack:   p.int("meridian track", c[1]),
		MeridianSlew:    p.int("meridian slew", c[2]),
		RefractionTemp:  p.float("refraction temperature", c[3]),
		RefractionPress: p.float("refraction pressure", c[4]),
		Temperature:     p.float("temperature", c[5]),
		Refraction:      p.flag("refraction", c[6]),
		UnattendedFlip:  p.flag("unattended flip", c[7]),
		DualAxis:        p.flag("dual axis", c[8]),
		HorizonHigh:     p.int("horizon high", c[9]),
		HorizonLow:      p.int("horizon low", c[10]),
		TrackingRate:    p.float("tracking rate", c[11]),
	}
	valid, expiry, ok := strings.Cut(c[12], ",")
	if !ok || (valid != "V" && valid != "E") {
		if p.err == nil {
			p.err = fmt.Errorf("utc expiry %q", c[12])
		}
	}
	setup.UTCValid = valid == "V"
	setup.UTCExpiry = expiry
	return setup, p.err
}

func (s *Settings) SetSlewRate(v int) error {
	if v < 2 || v > 15 {
		return fmt.Errorf("slew rate %d out of range", v)
	}
	return command(s.conn, fmt.Sprintf(":Sw%02d#", v), "1")
}

func (s *Settings) SetRefraction(on bool) error {
	return command(s.conn, ":SREF"+util.FlagString(on)+"#", "1")
}

func (s *Settings) SetUnattendedFlip(on bool) error {
	return command(s.conn, ":Suaf"+util.FlagString(on)+"#", "1")
}

func (s *Settings) SetDualAxis(on bool) error {
	return command(s.conn, ":Sdat"+util.FlagString(on)+"#", "1")
}

func (s *Settings) SetHorizonHigh(deg int) error {
	if deg < 0 || deg > 90 {
		return fmt.Errorf("horizon limit %d out of range", deg)
	}
	return command(s.conn, fmt.Sprintf(":Sh%+03d#", deg), "1")
}

func (s *Settings) SetHorizonLow(deg int) error {
	if deg < -5 || deg > 45 {
		return fmt.Errorf("horizon limit %d out of range", deg)
	}
	return command(s.conn, fmt.Sprintf(":So%+03d#", deg), "1")
}

func (s *Settings) SetMeridianTrack(deg int) error {
	if deg < 1 || deg > 30 {
		return fmt.Errorf("meridian limit %d out of range", deg)
	}
	return command(s.conn, fmt.Sprintf(":Slmt%02d#", deg), "1")
}

func (s *Settings) SetMeridianSlew(deg int) error {
	if deg < 0 || deg > 30 {
		return fmt.Errorf("meridian limit %d out of range", deg)
	}
	return command(s.conn, fmt.Sprintf(":Slms%02d#", deg), "1")
}

func (s *Settings) SetRefractionTemp(c float64) error {
	if c < -40 || c > 75 {
		return fmt.Errorf("refraction temperature %.1f out of range", c)
	}
	return command(s.conn, fmt.Sprintf(":SRTMP%+06.1f#", c), "1")
}

func (s *Settings) SetRefractionPress(hPa float64) error {
	if hPa < 500 || hPa > 1300 {
		return fmt.Errorf("refraction pressure %.1f out of range", hPa)
	}
	return command(s.conn, fmt.Sprintf(":SRPRS%06.1f#", hPa), "1")
}
