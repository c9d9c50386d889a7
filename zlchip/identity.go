package zlchip

import "fmt"

// Identity is the decoded identity block of a probed chip.
type Identity struct {
	ChipID              uint16
	Revision            uint16
	FWVersion           uint16
	CustomConfigVersion uint32
}

// knownIDs maps chip IDs to friendly names. Best effort, the exact mapping
// can vary by OTP/package.
var knownIDs = []struct {
	id   uint16
	name string
}{
	{0x0E95, "ZL3073x (A)"},
	{0x1E95, "ZL3073x (B)"},
	{0x2E95, "ZL3073x (C)"},
}

// LookupName returns the friendly name for a chip ID, or "Unknown" when the
// ID is not in the known list. Exact matches only.
func LookupName(id uint16) string {
	for _, m := range knownIDs {
		if m.id == id {
			return m.name
		}
	}
	return "Unknown"
}

func (id *Identity) Name() string { return LookupName(id.ChipID) }

func (id *Identity) RevisionMajor() uint8 { return uint8(id.Revision>>4) & 0x0F }
func (id *Identity) RevisionMinor() uint8 { return uint8(id.Revision) & 0x0F }

// Report renders the identity in the fixed layout printed by the command.
// device names the bus the chip was probed through.
func (id *Identity) Report(device string) string {
	return fmt.Sprintf("ZL3073x identity via %s\n"+
		"  Chip ID              : 0x%04X  (%s)\n"+
		"  Revision             : 0x%04X  (major=%d minor=%d)\n"+
		"  Firmware Version     : 0x%04X\n"+
		"  Custom Config Version: 0x%08X\n",
		device,
		id.ChipID, id.Name(),
		id.Revision, id.RevisionMajor(), id.RevisionMinor(),
		id.FWVersion,
		id.CustomConfigVersion)
}

// Identity reads the identity block. The first failed register read aborts
// the probe; no partial identity is returned.
func (c *Chip) Identity() (*Identity, error) {
	var id Identity
	var err error

	if id.ChipID, err = c.ReadU16(RegID); err != nil {
		return nil, fmt.Errorf("read chip id: %w", err)
	}
	if id.Revision, err = c.ReadU16(RegRevision); err != nil {
		return nil, fmt.Errorf("read revision: %w", err)
	}
	if id.FWVersion, err = c.ReadU16(RegFWVer); err != nil {
		return nil, fmt.Errorf("read firmware version: %w", err)
	}
	if id.CustomConfigVersion, err = c.ReadU32(RegCustomConfigVer); err != nil {
		return nil, fmt.Errorf("read custom config version: %w", err)
	}

	return &id, nil
}
