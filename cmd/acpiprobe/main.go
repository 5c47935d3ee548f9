package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/tinyrange/acpiprobe/internal/acpi"
	"github.com/tinyrange/acpiprobe/internal/physmem"
	"golang.org/x/term"
)

// synthImageSize covers everything below 1 MiB, which holds both default
// search windows.
const synthImageSize = 1 << 20

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	configPath := fs.String("config", "", "YAML config file")
	image := fs.String("image", "", "Probe a raw physical memory dump instead of /dev/mem")
	imageBase := fs.Uint64("image-base", 0, "Physical address of the first byte of -image")
	devMem := fs.String("devmem", "", "Physical memory device (default "+physmem.DefaultDevMemPath+")")
	color := fs.String("color", "", "Colorize output: auto, always or never")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn or error")
	synth := fs.String("synth", "", "Write a synthesized 1 MiB memory image with ACPI tables to the given file and exit")
	cpus := fs.Int("cpus", 1, "Number of processors in the synthesized MADT")
	hpet := fs.Bool("hpet", false, "Add an HPET table to the synthesized image")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "image":
			cfg.Image = *image
		case "image-base":
			cfg.ImageBase = *imageBase
		case "devmem":
			cfg.DevMem = *devMem
		case "color":
			cfg.Color = *color
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid options: %v\n", err)
		os.Exit(1)
	}

	level, _ := cfg.level()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *synth != "" {
		if err := checkCPUs(*cpus); err != nil {
			fmt.Fprintf(os.Stderr, "invalid options: %v\n", err)
			os.Exit(1)
		}
		if err := writeSynthImage(*synth, *cpus, *hpet); err != nil {
			fmt.Fprintf(os.Stderr, "failed to synthesize image: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote ACPI image for %d CPUs to %q\n", *cpus, *synth)
		return
	}

	mapper, closeMapper, err := openMapper(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open physical memory: %v\n", err)
		os.Exit(1)
	}
	defer closeMapper()

	rep := acpi.NewTextReporter(os.Stdout, useColor(cfg.Color))

	tables, err := acpi.Probe(mapper, rep, acpi.Options{Windows: cfg.Windows})
	if errors.Is(err, acpi.ErrRootNotFound) {
		// Not an error: the machine simply has no ACPI.
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ACPI probe failed: %v\n", err)
		closeMapper()
		os.Exit(1)
	}

	if tables.MADT != nil {
		slog.Info("interrupt topology",
			"processors", len(tables.MADT.Processors()),
			"ioapics", len(tables.MADT.IOAPICs()),
			"overrides", len(tables.MADT.Overrides()),
		)
	}
}

func openMapper(cfg probeConfig) (physmem.Mapper, func(), error) {
	if cfg.Image != "" {
		img, err := physmem.LoadImage(cfg.Image, cfg.ImageBase)
		if err != nil {
			return nil, nil, err
		}
		img.SetLogger(slog.Default().With("source", cfg.Image))
		return img, func() {}, nil
	}

	dev, err := physmem.OpenDevMem(cfg.DevMem)
	if err != nil {
		return nil, nil, err
	}
	dev.SetLogger(slog.Default().With("source", "devmem"))
	return dev, func() {
		if err := dev.Close(); err != nil {
			slog.Warn("failed to close physical memory device", "error", err)
		}
	}, nil
}

func useColor(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}

// writeSynthImage lays out a PC-style legacy table chain in a zeroed image:
// the RSDP at the start of the BIOS ROM window and the tables in the last
// 64 KiB below 1 MiB.
func writeSynthImage(path string, cpus int, withHPET bool) error {
	img := physmem.NewImage(0, make([]byte, synthImageSize))

	cfg := acpi.Config{
		NumCPUs:    cpus,
		PCATCompat: true,
		ISAOverrides: []acpi.InterruptOverride{
			{IRQ: 0, GSI: 2},
			{IRQ: 9, GSI: 9, Flags: 0xd},
		},
	}
	if withHPET {
		cfg.HPET = &acpi.HPETConfig{Address: 0xFED00000}
	}
	if err := acpi.Install(img, cfg); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bar := progressbar.DefaultBytes(int64(img.MemorySize()), "writing image")
	if _, err := io.Copy(io.MultiWriter(f, bar), io.NewSectionReader(img, 0, int64(img.MemorySize()))); err != nil {
		return err
	}

	return f.Close()
}
