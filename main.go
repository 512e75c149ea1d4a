package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"moria.us/npureloc/image"
	"moria.us/npureloc/logger"
	"moria.us/npureloc/mempool"
)

const usage = `Usage: npureloc <command> [flags] [arguments]

Commands:
  build [flags] <input.elf|dir>   create a relocatable image from a network object
  check [flags] <image.bin>       validate and summarise a relocatable image
  mempools [flags]                encode a memory pool list into a parameter blob

Run "npureloc <command> -h" for the flags of a command.
`

// verbosity of the running command
var logVerbosity int

// startLog resets the central log for a command. Below the highest verbosity
// new entries are echoed to stderr. At the highest verbosity nothing is
// echoed and endLog writes the whole log, with repeated entries collapsed.
func startLog(verbosity int) {
	logger.Clear()
	logger.SetVerbosity(verbosity)
	logVerbosity = verbosity
	if verbosity < maxVerbosity {
		logger.SetEcho(os.Stderr)
	} else {
		logger.SetEcho(nil)
	}
}

// endLog writes the log of the finished command, if it was not echoed.
func endLog(w io.Writer) {
	if logVerbosity >= maxVerbosity {
		logger.Write(w)
	}
}

func buildMain(args []string) error {
	cfg, err := parseBuildFlags(args)
	if err != nil {
		return err
	}
	startLog(cfg.verbosity)
	if err := cfg.resolve(); err != nil {
		return err
	}
	res, err := postProcess(cfg)
	if err != nil {
		return wrapError(err, cfg.input)
	}
	if cfg.verbosity > 0 {
		w := bufio.NewWriter(os.Stdout)
		res.header.DumpText(w, "", res.symbol, nil)
		for _, o := range res.outputs {
			fmt.Fprintf(w, "creating %q (size=%d)\n", o.name, o.size)
		}
		return w.Flush()
	}
	return nil
}

func checkMain(args []string) error {
	cfg, err := parseCheckFlags(args)
	if err != nil {
		return err
	}
	startLog(cfg.verbosity)
	h, err := image.Open(cfg.input)
	if err != nil {
		return wrapError(err, cfg.input)
	}
	if err := h.Validate(); err != nil {
		return wrapError(err, cfg.input)
	}
	w := bufio.NewWriter(os.Stdout)
	h.DumpText(w, "", nil, nil)
	return w.Flush()
}

func mempoolsMain(args []string) error {
	cfg, err := parseMempoolsFlags(args)
	if err != nil {
		return err
	}
	startLog(cfg.verbosity)
	pools, err := mempool.LoadFile(cfg.config)
	if err != nil {
		return wrapError(err, cfg.config)
	}
	e := mempool.Encoder{ContinueOnError: cfg.keepGoing}
	for i, p := range pools {
		if _, err := e.Add(p); err != nil {
			return wrapErrorf(err, "%s: pool %d", cfg.config, i)
		}
	}
	w := bufio.NewWriter(os.Stdout)
	e.DumpText(w, "")
	if err := w.Flush(); err != nil {
		return err
	}
	if n := len(e.Errors()); n != 0 {
		return fmt.Errorf("%s: %d pools are not supported", cfg.config, n)
	}
	if cfg.output == "" {
		return nil
	}
	return writeFile(cfg.output, e.Blob())
}

func mainE() error {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("no command")
	}
	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "build":
		err = buildMain(args)
	case "check":
		err = checkMain(args)
	case "mempools":
		err = mempoolsMain(args)
	case "help", "-h", "-help", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

func main() {
	startLog(defaultVerbosity)
	err := mainE()
	endLog(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
