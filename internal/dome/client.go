package dome

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/fisaks/mountlink/internal/config"
	"github.com/fisaks/mountlink/internal/logging"
)

type ModbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// client is a reconnecting Modbus client with exponential backoff.
type client struct {
	mu      sync.Mutex
	handler ModbusHandler // satisfied by both RTU and TCP handlers
	client  modbus.Client
	address string

	connOK     bool
	backoff    time.Duration
	backoffMin time.Duration
	backoffMax time.Duration
}

func newClient(handler ModbusHandler, address string) *client {
	return &client{
		handler:    handler,
		client:     modbus.NewClient(handler),
		address:    address,
		backoffMin: 200 * time.Millisecond,
		backoffMax: 5 * time.Second,
	}
}

func newRTUClient(cfg *config.DomeConfig) *client {
	handler := modbus.NewRTUClientHandler(cfg.Port)
	handler.BaudRate = cfg.Baud
	handler.DataBits = cfg.DataBits
	handler.Parity = cfg.Parity
	handler.StopBits = cfg.StopBits
	handler.SlaveId = cfg.UnitId
	handler.Timeout = cfg.Timeout()
	if cfg.Debug {
		handler.Logger = logging.WrapSlog("dome", cfg.Port)
	}
	return newClient(handler, cfg.Port)
}

func newTCPClient(cfg *config.DomeConfig) *client {
	handler := modbus.NewTCPClientHandler(cfg.TCPAddr)
	handler.SlaveId = cfg.UnitId
	handler.Timeout = cfg.Timeout()
	if cfg.Debug {
		handler.Logger = logging.WrapSlog("dome", cfg.TCPAddr)
	}
	return newClient(handler, cfg.TCPAddr)
}

func (c *client) ensureConnected(ctx context.Context) error {
	if c.connOK {
		return nil
	}
	if c.backoff > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
	_ = c.handler.Close()
	if err := c.handler.Connect(); err != nil {
		c.bumpBackoff()
		return err
	}
	c.client = modbus.NewClient(c.handler)
	c.connOK = true
	c.backoff = 0
	return nil
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connOK = false
	return c.handler.Close()
}

func (c *client) bumpBackoff() {
	c.connOK = false
	if c.backoff == 0 {
		c.backoff = c.backoffMin
	} else {
		c.backoff *= 2
		if c.backoff > c.backoffMax {
			c.backoff = c.backoffMax
		}
	}
}

func isTransient(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "reset") ||
		strings.Contains(s, "closed") ||
		strings.Contains(s, "i/o") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "eof")
}

// do runs fn once, and once more after a reconnect when the failure looks
// like a broken link.
func (c *client) do(ctx context.Context, fn func(modbus.Client) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	v, err := fn(c.client)
	if err == nil {
		return v, nil
	}
	if isTransient(err) {
		logging.Warn("dome request failed, reconnecting", "addr", c.address, "error", err)
		c.connOK = false
		if err2 := c.ensureConnected(ctx); err2 == nil {
			return fn(c.client)
		}
	}
	return nil, err
}

func (c *client) readHolding(ctx context.Context, addr, count uint16) ([]uint16, error) {
	data, err := c.do(ctx, func(m modbus.Client) ([]byte, error) {
		return m.ReadHoldingRegisters(addr, count)
	})
	if err != nil {
		return nil, err
	}
	if len(data) != int(count)*2 {
		return nil, fmt.Errorf("holding registers: got %d bytes want %d", len(data), count*2)
	}
	regs := make([]uint16, count)
	for i := range regs {
		regs[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return regs, nil
}

func (c *client) writeRegister(ctx context.Context, addr, value uint16) error {
	_, err := c.do(ctx, func(m modbus.Client) ([]byte, error) {
		return m.WriteSingleRegister(addr, value)
	})
	return err
}

func (c *client) writeCoil(ctx context.Context, addr uint16, on bool) error {
	_, err := c.do(ctx, func(m modbus.Client) ([]byte, error) {
		val := uint16(0)
		if on {
			val = 0xFF00
		}
		return m.WriteSingleCoil(addr, val)
	})
	return err
}
