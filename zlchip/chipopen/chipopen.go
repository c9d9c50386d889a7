// Package chipopen opens the SPI bus a ZL3073x chip is attached to and
// wires it into a zlchip.Chip. Two kinds of device paths are understood:
// platform spidev port names and "usb[:serial]" for chips reached through a
// Microchip MCP2210 USB to SPI bridge.
package chipopen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vjardin/zl30xxx-tools/zlchip"
	"github.com/vjardin/zl30xxx-tools/zlchip/chipopen/mcp2210"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultDevice is probed when no device path is given.
const DefaultDevice = "/dev/spidev0.0"

// DefaultSpeedHz is the bus clock used when none is given. Start low and
// tune up once the chip answers.
const DefaultSpeedHz = 1000000

// Config is the run-scoped bus configuration, built once from CLI input and
// passed down by reference.
type Config struct {
	SpeedHz uint32
	Mode    uint8 // CPOL/CPHA variant 0..3
	Debug   int
	Log     zlchip.LogFunc
}

func (cfg *Config) check() error {
	if cfg.Mode > 3 {
		return fmt.Errorf("%w: SPI mode %d, expected 0..3", zlchip.ErrInvalidArgument, cfg.Mode)
	}
	return nil
}

// OpenChipPlatform opens a spidev port through the periph.io host registry
// and applies the bus settings. Word size is fixed at 8 bits.
func OpenChipPlatform(dev string, cfg Config) (*zlchip.Chip, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: could not init host: %v", zlchip.ErrOpen, err)
	}

	port, err := spireg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", zlchip.ErrOpen, dev, err)
	}

	conn, err := port.Connect(physic.Frequency(cfg.SpeedHz)*physic.Hertz, spi.Mode(cfg.Mode), 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: mode=%d speed=%dHz: %v", zlchip.ErrConfig, cfg.Mode, cfg.SpeedHz, err)
	}

	txFunc := func(tx, rx []byte) (int, error) {
		if err := conn.Tx(tx, rx); err != nil {
			return 0, err
		}
		return len(tx), nil
	}

	return zlchip.New(txFunc, port.Close, cfg.Log)
}

// OpenChipUSB opens an MCP2210 bridge by serial number (any attached bridge
// when serial is empty) and applies the bus settings to its SPI engine.
func OpenChipUSB(serial string, cfg Config) (*zlchip.Chip, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	findDevice := func(serial string) (*mcp2210.MCP2210, error) {
		devices := mcp2210.AttachedDevices(mcp2210.VID, mcp2210.PID)

		for _, m := range devices {
			if m.Serial == serial || serial == "" {
				hid, err := m.Open()
				if err != nil {
					return nil, err
				}

				return mcp2210.NewFromDev(hid)
			}
		}

		return nil, errors.New("no device found")
	}

	dev, err := findDevice(serial)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zlchip.ErrOpen, err)
	}

	if cfg.Debug > 1 {
		dev.Log = mcp2210.LogFunc(cfg.Log)
	}

	if err := dev.SPI.SetConfig(cfg.SpeedHz, cfg.Mode); err != nil {
		dev.Close()
		return nil, fmt.Errorf("%w: mode=%d speed=%dHz: %v", zlchip.ErrConfig, cfg.Mode, cfg.SpeedHz, err)
	}

	txFunc := func(tx, rx []byte) (int, error) {
		data, err := dev.SPI.Transfer(tx)
		if err != nil {
			return 0, err
		}

		copy(rx, data)

		return len(tx), nil
	}

	return zlchip.New(txFunc, dev.Close, cfg.Log)
}

func getPart(parts []string, index int, def string) string {
	if index >= len(parts) {
		return def
	}
	return parts[index]
}

// Open opens the given device path and returns a ready chip. "usb[:serial]"
// goes through the MCP2210 bridge; anything else is treated as a platform
// spidev port name.
func Open(path string, cfg Config) (*zlchip.Chip, error) {
	parts := strings.Split(path, ":")

	if parts[0] == "usb" {
		return OpenChipUSB(getPart(parts, 1, ""), cfg)
	}

	return OpenChipPlatform(path, cfg)
}
