// Package mcp2210 provides a minimal interface to the Microchip MCP2210 USB
// to SPI protocol converter. The device enumerates as a USB HID-class device
// exchanging fixed 64 byte command and response messages. Only the SPI
// transfer engine is supported; GPIO, EEPROM and NVRAM configuration are not.
//
// Datasheet: http://ww1.microchip.com/downloads/en/DeviceDoc/22288A.pdf
package mcp2210

import (
	"encoding/binary"
	"fmt"
	"time"

	usb "github.com/karalabe/hid"
)

// VID and PID are the default vendor and product identifiers of the MCP2210.
const (
	VID = 0x04D8 // 16-bit vendor ID for Microchip Technology Inc.
	PID = 0x00DE // 16-bit product ID for the Microchip MCP2210.
)

// MsgSz is the size (in bytes) of all command and response messages.
const MsgSz = 64

// The SPI engine clocks at most this many data bytes per command message;
// longer transfers are split into chunks.
const spiChunkSz = 60

// Bit rate limits of the SPI engine.
const (
	BitRateMin = 1500
	BitRateMax = 12000000
)

// Command codes used by this driver.
const (
	cmdGetChipStatus  byte = 0x10
	cmdCancelTransfer byte = 0x11
	cmdSetSPISettings byte = 0x40
	cmdGetSPISettings byte = 0x41
	cmdTransferSPI    byte = 0x42
)

// Status codes in byte 1 of a response message.
const (
	stOK          byte = 0x00
	stBusExternal byte = 0xF7 // SPI bus owned by the external master
	stBusy        byte = 0xF8 // transfer in progress, command rejected
)

// SPI engine status in byte 3 of a transfer response.
const (
	engineDone    byte = 0x10 // transfer finished, all data received
	engineStarted byte = 0x20 // transfer started, no data to receive yet
	enginePending byte = 0x30 // transfer not finished, data pending
)

type LogFunc func(format string, params ...interface{})

// HIDDev is the HID endpoint the driver talks to. *hid.Device satisfies it;
// tests substitute a scripted fake.
type HIDDev interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// makeMsg creates a new zero'd slice with the required length of command and
// response messages, both of which are always 64 bytes.
func makeMsg() []byte { return make([]byte, MsgSz) }

// MCP2210 holds the USB HID connection and the SPI transfer engine module.
type MCP2210 struct {
	Device HIDDev

	// Log, when not nil, receives raw command/response frame traces.
	Log LogFunc

	SPI *SPI // dedicated SPI master, modes 0..3, up to 12 MHz
}

// AttachedDevices returns a slice of all connected USB HID device descriptors
// matching the given VID and PID.
//
// Returns an empty slice if no devices were found. See the hid package
// documentation for details on inspecting the returned objects.
func AttachedDevices(vid uint16, pid uint16) []usb.DeviceInfo {
	var info []usb.DeviceInfo

	for _, i := range usb.Enumerate(vid, pid) {
		info = append(info, i)
	}

	return info
}

// NewFromDev wraps an already opened HID endpoint.
func NewFromDev(dev HIDDev) (*MCP2210, error) {
	m := &MCP2210{Device: dev}
	m.SPI = &SPI{MCP2210: m}

	return m, nil
}

// New opens the device with the given VID and PID enumerated at the given
// index (an index of 0 uses the first device found).
func New(idx byte, vid uint16, pid uint16) (*MCP2210, error) {
	info := AttachedDevices(vid, pid)
	if int(idx) >= len(info) {
		return nil, fmt.Errorf("device index %d out of range [0, %d]", idx, len(info)-1)
	}

	dev, err := info[idx].Open()
	if err != nil {
		return nil, err
	}

	return NewFromDev(dev)
}

// valid verifies the receiver and USB HID device are both not nil.
func (m *MCP2210) valid() (bool, error) {
	if m == nil {
		return false, fmt.Errorf("nil MCP2210")
	}

	if m.Device == nil {
		return false, fmt.Errorf("nil USB HID device")
	}

	return true, nil
}

// Close will clean up any resources and close the USB HID connection.
func (m *MCP2210) Close() error {
	if ok, err := m.valid(); !ok {
		return err
	}

	return m.Device.Close()
}

func (m *MCP2210) log(format string, params ...interface{}) {
	if m.Log != nil {
		m.Log(format, params...)
	}
}

// send transmits one command message and returns the response message. The
// data argument is a byte slice created by makeMsg(); the cmd byte is
// inserted at the appropriate position automatically.
//
// send validates the echoed command code but not the status byte: several
// commands use it for retryable conditions, so interpreting it is left to
// the caller.
func (m *MCP2210) send(cmd byte, data []byte) ([]byte, error) {
	if ok, err := m.valid(); !ok {
		return nil, err
	}

	data[0] = cmd

	m.log("HID_W: % X", data)

	if _, err := m.Device.Write(data); err != nil {
		return nil, fmt.Errorf("Write([cmd=0x%02X]): %v", cmd, err)
	}

	rsp := makeMsg()
	recv, err := m.Device.Read(rsp)
	if err != nil {
		return nil, fmt.Errorf("Read([cmd=0x%02X]): %v", cmd, err)
	}
	if recv < MsgSz {
		return nil, fmt.Errorf("Read([cmd=0x%02X]): short read (%d of %d bytes)", cmd, recv, MsgSz)
	}
	if rsp[0] != cmd {
		return nil, fmt.Errorf("Read([cmd=0x%02X]): unexpected response 0x%02X", cmd, rsp[0])
	}

	m.log("HID_R: % X", rsp)

	return rsp, nil
}

// SPI is the SPI transfer engine of the MCP2210. The engine keeps volatile
// transfer settings (bit rate, mode, bytes per transaction) that must be
// written before data can be clocked; Transfer reapplies the transaction
// size automatically.
type SPI struct {
	*MCP2210

	bitRateHz  uint32
	mode       byte
	transferSz uint16
	configured bool
}

// SetConfig stores and applies the volatile SPI transfer settings. mode is
// the usual CPOL/CPHA encoding 0..3.
func (mod *SPI) SetConfig(bitRateHz uint32, mode byte) error {
	if ok, err := mod.valid(); !ok {
		return err
	}

	if bitRateHz < BitRateMin || bitRateHz > BitRateMax {
		return fmt.Errorf("bit rate %d out of range [%d, %d]", bitRateHz, BitRateMin, BitRateMax)
	}
	if mode > 3 {
		return fmt.Errorf("SPI mode %d out of range [0, 3]", mode)
	}

	mod.bitRateHz = bitRateHz
	mod.mode = mode
	mod.configured = true

	return mod.apply(mod.transferSz)
}

// apply writes the settings message with the given bytes-per-transaction
// count. Chip select idles high on all CS lines and asserts low.
func (mod *SPI) apply(transferSz uint16) error {
	cmd := makeMsg()

	binary.LittleEndian.PutUint32(cmd[4:], mod.bitRateHz)
	binary.LittleEndian.PutUint16(cmd[8:], 0x01FF)  // CS idle value
	binary.LittleEndian.PutUint16(cmd[10:], 0x0000) // CS active value
	// bytes 12..17: CS and inter-byte delays, all zero
	binary.LittleEndian.PutUint16(cmd[18:], transferSz)
	cmd[20] = mod.mode

	rsp, err := mod.send(cmdSetSPISettings, cmd)
	if err != nil {
		return fmt.Errorf("send(): %v", err)
	}
	if rsp[1] != stOK {
		return fmt.Errorf("settings rejected (status 0x%02X)", rsp[1])
	}

	mod.transferSz = transferSz

	return nil
}

// setTransferSize updates the bytes-per-transaction setting when it differs
// from the last applied value. The engine deasserts chip select after
// exactly this many bytes.
func (mod *SPI) setTransferSize(n uint16) error {
	if mod.transferSz == n {
		return nil
	}
	return mod.apply(n)
}

// Cancel aborts a pending SPI transfer and releases the bus.
func (mod *SPI) Cancel() error {
	if ok, err := mod.valid(); !ok {
		return err
	}

	rsp, err := mod.send(cmdCancelTransfer, makeMsg())
	if err != nil {
		return fmt.Errorf("send(): %v", err)
	}
	if rsp[1] != stOK {
		return fmt.Errorf("cancel rejected (status 0x%02X)", rsp[1])
	}

	return nil
}

// Transfer clocks tx out on the bus as one chip-select-framed transaction
// and returns the bytes clocked in, which always number exactly len(tx).
// Transfers longer than one command message are split into chunks; once all
// data is submitted the engine is polled with empty transfer commands until
// it reports completion.
func (mod *SPI) Transfer(tx []byte) ([]byte, error) {
	if ok, err := mod.valid(); !ok {
		return nil, err
	}
	if !mod.configured {
		return nil, fmt.Errorf("SPI settings not configured")
	}
	if len(tx) == 0 || len(tx) > 0xFFFF {
		return nil, fmt.Errorf("transfer length %d out of range [1, 65535]", len(tx))
	}

	if err := mod.setTransferSize(uint16(len(tx))); err != nil {
		return nil, err
	}

	rx := make([]byte, 0, len(tx))
	sent := 0
	deadline := time.Now().Add(time.Second)

	for {
		chunk := tx[sent:]
		if len(chunk) > spiChunkSz {
			chunk = chunk[:spiChunkSz]
		}

		cmd := makeMsg()
		cmd[1] = byte(len(chunk))
		copy(cmd[4:], chunk)

		rsp, err := mod.send(cmdTransferSPI, cmd)
		if err != nil {
			return nil, fmt.Errorf("send(): %v", err)
		}

		switch rsp[1] {
		case stOK:
			sent += len(chunk)

			cnt := int(rsp[2])
			if cnt > spiChunkSz || len(rx)+cnt > len(tx) {
				return nil, fmt.Errorf("transfer returned %d unexpected bytes", cnt)
			}
			rx = append(rx, rsp[4:4+cnt]...)

			if len(rx) == len(tx) && rsp[3] == engineDone {
				return rx, nil
			}

		case stBusy:
			// engine still clocking the previous chunk, resubmit
			time.Sleep(time.Millisecond)

		case stBusExternal:
			return nil, fmt.Errorf("SPI bus owned by external master")

		default:
			return nil, fmt.Errorf("transfer failed (status 0x%02X)", rsp[1])
		}

		if time.Now().After(deadline) {
			err := fmt.Errorf("transfer timed out (%d of %d bytes sent, %d received)",
				sent, len(tx), len(rx))
			if cerr := mod.Cancel(); cerr != nil {
				err = fmt.Errorf("%v; cancel: %v", err, cerr)
			}
			return nil, err
		}
	}
}
