// Package zlchip implements register access to Microsemi ZL3073x family
// clock synchronizer chips attached to a SPI bus.
//
// The register space is divided into 128 byte pages gated by a dedicated
// page select register. Callers use 16 bit logical addresses combining page
// and in-page offset; the accessor splits them and rewrites the page select
// register before every read rather than trusting the device state.
package zlchip

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Sentinel errors. Every failure returned by this package and by chipopen
// wraps one of these.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOpen            = errors.New("device open failed")
	ErrConfig          = errors.New("bus configuration failed")
	ErrBus             = errors.New("bus transfer failed")
	ErrUnsupported     = errors.New("unsupported field width")
)

// TxFunc performs one atomic full-duplex bus exchange. tx is transmitted
// completely; rx, when not nil, must have the same length as tx and receives
// the bytes clocked in during the exchange. It returns the number of bytes
// transferred.
type TxFunc func(tx, rx []byte) (int, error)

type LogFunc func(format string, params ...interface{})

const (
	// PageSize is the number of directly addressable bytes per page.
	PageSize = 0x80

	// PageSelReg is the in-page offset of the page select register. It is
	// aliased into every page so it stays writable no matter which page is
	// currently selected.
	PageSelReg = 0x7F

	// MaxReadLen is the largest payload of a single read transaction.
	MaxReadLen = 255
)

// Identity block registers, page 0. Multi-byte fields are big-endian.
const (
	RegID              = 0x0001 // u16, chip ID / family
	RegRevision        = 0x0003 // u16, packed major/minor nibbles
	RegFWVer           = 0x0005 // u16
	RegCustomConfigVer = 0x0007 // u32
)

// Chip accesses the paged register file of one device through an injected
// bus transfer function. It holds no mutable state of its own; the only
// state is the page selection inside the physical device.
type Chip struct {
	txFunc    TxFunc
	closeFunc func() error
	logFunc   LogFunc
}

// New wraps a bus transfer function. closeFunc, when not nil, is invoked by
// Close to release the underlying bus. logFunc, when not nil, receives
// per-transaction traces.
func New(txFunc TxFunc, closeFunc func() error, logFunc LogFunc) (*Chip, error) {
	if txFunc == nil {
		return nil, fmt.Errorf("%w: nil transfer function", ErrInvalidArgument)
	}

	return &Chip{
		txFunc:    txFunc,
		closeFunc: closeFunc,
		logFunc:   logFunc,
	}, nil
}

func (c *Chip) log(format string, params ...interface{}) {
	if c.logFunc != nil {
		c.logFunc(format, params...)
	}
}

// Close releases the underlying bus handle.
func (c *Chip) Close() error {
	if c.closeFunc == nil {
		return nil
	}
	return c.closeFunc()
}

// SplitAddress splits a 16 bit logical register address into its page and
// in-page offset.
func SplitAddress(addr uint16) (page, offset uint8) {
	return uint8(addr>>7) & 0x0F, uint8(addr) & 0x7F
}

// SelectPage writes page into the page select register. The 4 bit page field
// only allows pages 0 to 15.
func (c *Chip) SelectPage(page uint8) error {
	if page > 0x0F {
		return fmt.Errorf("%w: page 0x%X out of range [0,15]", ErrInvalidArgument, page)
	}

	c.log("PAGE -> 0x%X (write 0x%02X to 0x%02X)", page&0x0F, page&0x0F, PageSelReg)

	return c.writeU8(PageSelReg, page&0x0F)
}

// writeU8 issues a write-only transaction of one register byte.
func (c *Chip) writeU8(off, val uint8) error {
	tx := []byte{off, val}

	c.log("SPI_W: off=0x%02X data=% X", off, tx[1:])

	n, err := c.txFunc(tx, nil)
	if err != nil {
		return fmt.Errorf("%w: write off=0x%02X: %v", ErrBus, off, err)
	}
	if n < len(tx) {
		return fmt.Errorf("%w: write off=0x%02X: short transfer (%d of %d bytes)", ErrBus, off, n, len(tx))
	}

	return nil
}

// ReadRegister reads length bytes starting at the given logical address. The
// page select register is rewritten first, then a combined write-then-read
// exchange is issued. The device echoes the transmitted address in the first
// received byte, which is discarded.
func (c *Chip) ReadRegister(addr uint16, length int) ([]byte, error) {
	if length < 1 || length > MaxReadLen {
		return nil, fmt.Errorf("%w: read length %d not in [1,%d]", ErrInvalidArgument, length, MaxReadLen)
	}

	page, off := SplitAddress(addr)

	if err := c.SelectPage(page); err != nil {
		return nil, err
	}

	tx := make([]byte, length+1)
	rx := make([]byte, length+1)
	tx[0] = off

	n, err := c.txFunc(tx, rx)
	if err != nil {
		return nil, fmt.Errorf("%w: read off=0x%02X: %v", ErrBus, off, err)
	}
	if n < len(tx) {
		return nil, fmt.Errorf("%w: read off=0x%02X: short transfer (%d of %d bytes)", ErrBus, off, n, len(tx))
	}

	c.log("SPI_R: off=0x%02X rx=% X", off, rx[1:])

	return rx[1:], nil
}

// decodeBE interprets buf as an unsigned big-endian integer. Only the field
// widths of the register map are accepted.
func decodeBE(buf []byte) (uint32, error) {
	switch len(buf) {
	case 1:
		return uint32(buf[0]), nil
	case 2:
		return uint32(binary.BigEndian.Uint16(buf)), nil
	case 4:
		return binary.BigEndian.Uint32(buf), nil
	}

	return 0, fmt.Errorf("%w: %d bytes (only 8, 16 and 32 bit fields)", ErrUnsupported, len(buf))
}

// ReadU8 reads a single register byte.
func (c *Chip) ReadU8(addr uint16) (uint8, error) {
	buf, err := c.ReadRegister(addr, 1)
	if err != nil {
		return 0, err
	}

	v, err := decodeBE(buf)
	return uint8(v), err
}

// ReadU16 reads a big-endian 16 bit register.
func (c *Chip) ReadU16(addr uint16) (uint16, error) {
	buf, err := c.ReadRegister(addr, 2)
	if err != nil {
		return 0, err
	}

	v, err := decodeBE(buf)
	return uint16(v), err
}

// ReadU32 reads a big-endian 32 bit register.
func (c *Chip) ReadU32(addr uint16) (uint32, error) {
	buf, err := c.ReadRegister(addr, 4)
	if err != nil {
		return 0, err
	}

	return decodeBE(buf)
}
