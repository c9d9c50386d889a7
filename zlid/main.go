// Command zlid identifies a ZL3073x family clock synchronizer attached to a
// SPI bus and prints a decoded identity report.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/vjardin/zl30xxx-tools/zlchip"
	"github.com/vjardin/zl30xxx-tools/zlchip/chipopen"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("zlid: ")

	if err := run(os.Args[1:]); err != nil {
		// the flag set already printed the usage text
		if !errors.Is(err, flag.ErrHelp) {
			log.Println(err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("zlid", flag.ContinueOnError)

	device := fs.String("d", chipopen.DefaultDevice, "SPI device: spidev path or usb[:serial]")
	speed := fs.Uint("s", chipopen.DefaultSpeedHz, "SPI speed in Hz")
	mode := fs.Int("m", 0, "SPI mode 0..3")
	debug := fs.Int("D", 0, "debug level for transfer traces (2 adds raw USB frames)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *mode < 0 || *mode > 3 {
		return fmt.Errorf("invalid SPI mode %d, expected 0..3", *mode)
	}

	logOut := zlchip.LogFunc(log.Printf)
	if *debug == 0 {
		logOut = nil
	}

	cfg := chipopen.Config{
		SpeedHz: uint32(*speed),
		Mode:    uint8(*mode),
		Debug:   *debug,
		Log:     logOut,
	}

	chip, err := chipopen.Open(*device, cfg)
	if err != nil {
		return fmt.Errorf("open %s: %w", *device, err)
	}
	defer chip.Close()

	id, err := chip.Identity()
	if err != nil {
		return fmt.Errorf("probe %s: %w", *device, err)
	}

	fmt.Print(id.Report(*device))

	return nil
}
