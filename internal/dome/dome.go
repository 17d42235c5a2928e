package dome

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fisaks/mountlink/internal/config"
)

// Register map of the dome controller.
const (
	RegAzimuth = 0 // tenths of a degree
	RegShutter = 1
	RegSlewing = 2
	RegError   = 3
	RegTarget  = 10 // write: target azimuth, tenths of a degree

	CoilShutter = 0 // on opens, off closes

	statusRegisters = 4
)

type Shutter int

const (
	ShutterClosed Shutter = iota
	ShutterOpen
	ShutterOpening
	ShutterClosing
)

func (s Shutter) String() string {
	switch s {
	case ShutterClosed:
		return "closed"
	case ShutterOpen:
		return "open"
	case ShutterOpening:
		return "opening"
	case ShutterClosing:
		return "closing"
	}
	return fmt.Sprintf("shutter(%d)", int(s))
}

type Status struct {
	Azimuth float64 `json:"azimuth"`
	Shutter Shutter `json:"shutter"`
	Slewing bool    `json:"slewing"`
	Error   int     `json:"error"`
}

// Dome is the dome sub-state. Poll reads the status registers; the whole
// status is replaced only when every register was read.
type Dome struct {
	mu      sync.RWMutex
	status  Status
	updated time.Time

	client  *client
	timeout time.Duration
}

func New(cfg *config.DomeConfig) (*Dome, error) {
	var c *client
	switch cfg.Type {
	case "rtu":
		c = newRTUClient(cfg)
	case "tcp":
		c = newTCPClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported dome type: %s", cfg.Type)
	}
	timeout := 2 * cfg.Timeout()
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Dome{client: c, timeout: timeout}, nil
}

func (d *Dome) Poll() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	regs, err := d.client.readHolding(ctx, RegAzimuth, statusRegisters)
	if err != nil {
		return false, fmt.Errorf("dome status: %w", err)
	}
	st := Status{
		Azimuth: float64(regs[RegAzimuth]) / 10,
		Shutter: Shutter(regs[RegShutter]),
		Slewing: regs[RegSlewing] != 0,
		Error:   int(regs[RegError]),
	}
	d.mu.Lock()
	d.status = st
	d.updated = time.Now()
	d.mu.Unlock()
	return true, nil
}

func (d *Dome) State() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Dome) Updated() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.updated
}

// SlewTo moves the dome to azimuth degrees.
func (d *Dome) SlewTo(ctx context.Context, azimuth float64) error {
	az := math.Mod(azimuth, 360)
	if az < 0 {
		az += 360
	}
	return d.client.writeRegister(ctx, RegTarget, uint16(math.Round(az*10))%3600)
}

func (d *Dome) OpenShutter(ctx context.Context) error {
	return d.client.writeCoil(ctx, CoilShutter, true)
}

func (d *Dome) CloseShutter(ctx context.Context) error {
	return d.client.writeCoil(ctx, CoilShutter, false)
}

func (d *Dome) Close() error { return d.client.Close() }
