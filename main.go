// main.go - Main entry point for the ie86 8086 machine

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
License: GPLv3 or later
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/retroenv/retrogolib/app"
	"github.com/retroenv/retrogolib/log"
	"golang.org/x/sync/errgroup"
)

func boilerPlate(w io.Writer) {
	fmt.Fprintln(w, "ie86 - a table-driven 8086 machine")
	fmt.Fprintln(w, "(c) 2024 - 2026 Zayn Otley")
	fmt.Fprintln(w, "License: GPLv3 or later")
}

// options are the command line settings layered over a config file.
type options struct {
	config   string
	mkbios   string
	debug    bool
	quiet    bool
	machine  MachineConfig
	explicit map[string]bool
}

func parseFlags(args []string, stdout io.Writer) (*options, error) {
	opts := &options{explicit: make(map[string]bool)}
	m := &opts.machine

	flagSet := flag.NewFlagSet("ie86", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&m.BIOS, "bios", "", "BIOS image loaded at F000:0100")
	flagSet.StringVar(&m.Floppy, "fd", "", "Floppy image (drive 0x00)")
	flagSet.StringVar(&m.HardDisk, "hd", "", "Hard disk image (drive 0x80)")
	flagSet.StringVar(&m.Terminal, "term", "", "Console device (default stdout/stdin); Ctrl-C on a tty stops the run")
	flagSet.Uint64Var(&m.MaxSteps, "max-steps", 0, "Stop after this many instructions (0 = no limit)")
	flagSet.StringVar(&m.UntilScript, "until", "", "Lua script defining should_stop(regs)")
	flagSet.StringVar(&m.Break, "break", "", "Stop when a condition holds, e.g. AX==$3 or [0000:7C00]==$EB")
	flagSet.BoolVar(&m.Trace, "trace", false, "Log every instruction (needs -debug)")
	flagSet.Float64Var(&m.TraceRate, "trace-rate", 0, "Maximum trace lines per second (0 = unlimited)")
	flagSet.StringVar(&opts.config, "config", "", "Machine config file (.toml, .yaml)")
	flagSet.StringVar(&opts.mkbios, "mkbios", "", "Write the built-in BIOS image to this file and exit")
	flagSet.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flagSet.BoolVar(&opts.quiet, "q", false, "Only log errors")

	flagSet.Usage = func() {
		flagSet.SetOutput(stdout)
		fmt.Fprintln(stdout, "Usage: ie86 [-config machine.toml] [-bios bios.bin] [-fd floppy.img] [-hd disk.img] [-term /dev/ttyX] [bios.bin]")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	flagSet.Visit(func(f *flag.Flag) {
		opts.explicit[f.Name] = true
	})
	if m.BIOS == "" && flagSet.NArg() > 0 {
		m.BIOS = flagSet.Arg(0)
		opts.explicit["bios"] = true
	}
	return opts, nil
}

// machineConfig merges the config file, if any, with explicitly set flags.
func (o *options) machineConfig() (*MachineConfig, error) {
	if o.config == "" {
		cfg := o.machine
		return &cfg, nil
	}
	cfg, err := LoadConfig(o.config)
	if err != nil {
		return nil, err
	}
	overrides := map[string]func(){
		"bios":       func() { cfg.BIOS = o.machine.BIOS },
		"fd":         func() { cfg.Floppy = o.machine.Floppy },
		"hd":         func() { cfg.HardDisk = o.machine.HardDisk },
		"term":       func() { cfg.Terminal = o.machine.Terminal },
		"max-steps":  func() { cfg.MaxSteps = o.machine.MaxSteps },
		"until":      func() { cfg.UntilScript = o.machine.UntilScript },
		"break":      func() { cfg.Break = o.machine.Break },
		"trace":      func() { cfg.Trace = o.machine.Trace },
		"trace-rate": func() { cfg.TraceRate = o.machine.TraceRate },
	}
	for name, apply := range overrides {
		if o.explicit[name] {
			apply()
		}
	}
	return cfg, nil
}

func writeBuiltinBIOS(path string) error {
	image, err := BuildFirmwareImage(BuildDecodeTables(), nil)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return errors.Wrap(err, "writing BIOS image")
	}
	return nil
}

func main() {
	os.Exit(run(app.Context(), os.Args[1:], os.Stdout, os.Stderr))
}

// run is the whole CLI; it returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logger := CreateLogger(opts.debug, opts.quiet)

	if opts.mkbios != "" {
		if err := writeBuiltinBIOS(opts.mkbios); err != nil {
			logger.Error("Building BIOS failed", log.Err(err))
			return 1
		}
		logger.Info("BIOS image written", log.String("file", opts.mkbios))
		return 0
	}

	cfg, err := opts.machineConfig()
	if err != nil {
		logger.Error("Configuration failed", log.Err(err))
		return 1
	}
	if !opts.quiet {
		boilerPlate(stderr)
	}

	terminal, err := OpenTerminal(cfg.Terminal)
	if err != nil {
		logger.Error("Terminal unavailable", log.Err(err))
		return 1
	}
	defer func() { _ = terminal.Close() }()

	machine, err := NewMachine(cfg, terminal, logger)
	if err != nil {
		logger.Error("Machine setup failed", log.Err(err))
		return 1
	}
	defer machine.Close()
	machine.AttachKeyboard(terminal.Keys())

	ctx, interrupt := context.WithCancel(ctx)
	defer interrupt()
	terminal.OnInterrupt(func() {
		logger.Info("Interrupted from terminal")
		interrupt()
	})

	var reason StopReason
	g, gctx := errgroup.WithContext(ctx)
	termCtx, stopTerminal := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopTerminal()
		var err error
		reason, err = machine.Run(gctx)
		return err
	})
	g.Go(func() error {
		return terminal.Run(termCtx)
	})
	err = g.Wait()

	if !opts.quiet {
		fmt.Fprintln(stderr)
		machine.Debug().DumpRegisters(stderr)
	}
	if err != nil {
		logger.Error("Execution failed", log.Err(err))
		return 1
	}
	logger.Info("Machine stopped",
		log.String("reason", reason.String()),
		log.Int("steps", int(machine.CPU().Steps)))
	return 0
}
