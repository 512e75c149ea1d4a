package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xyproto/env/v2"
)

// Environment variables which override the default values of flags.
const (
	envOutput    = "NPURELOC_OUTPUT"
	envName      = "NPURELOC_NAME"
	envVerbosity = "NPURELOC_VERBOSITY"
	envClang     = "NPURELOC_CLANG"
	envSplit     = "NPURELOC_SPLIT"
	envGenC      = "NPURELOC_GEN_C"
)

const (
	defaultOutput    = "build"
	defaultName      = "network"
	defaultVerbosity = 1
	maxVerbosity     = 2
)

// A buildConfig holds the options of the build command.
type buildConfig struct {
	input     string // network object, or directory containing <name>.elf
	output    string // image file, or directory
	name      string // C name of the network
	params    string // raw parameter file, may be empty
	split     bool
	genC      bool
	clang     bool
	verbosity int
}

func verbosityFlag(fs *flag.FlagSet, v *int) {
	fs.IntVar(v, "v", env.Int(envVerbosity, defaultVerbosity), "verbosity, 0 to 2")
}

func checkVerbosity(v int) error {
	if v < 0 || v > maxVerbosity {
		return fmt.Errorf("invalid verbosity %d, expected 0 to %d", v, maxVerbosity)
	}
	return nil
}

func parseBuildFlags(args []string) (*buildConfig, error) {
	var c buildConfig
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.StringVar(&c.output, "output", env.Str(envOutput, defaultOutput), "output file or directory")
	fs.StringVar(&c.name, "name", env.Str(envName, defaultName), "C name of the network")
	fs.StringVar(&c.params, "params", "", "raw parameter file (default <input dir>/<name>_reloc_mempools.raw)")
	fs.BoolVar(&c.split, "split", env.Bool(envSplit), "write the parameters to a separate file")
	fs.BoolVar(&c.genC, "gen-c-file", env.Bool(envGenC), "also write the image as C source")
	fs.BoolVar(&c.clang, "clang", env.Bool(envClang), "object was built with clang")
	verbosityFlag(fs, &c.verbosity)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("got %d arguments, expected 1", fs.NArg())
	}
	c.input = fs.Arg(0)
	if c.name == "" {
		return nil, errors.New("flag -name is required")
	}
	if c.output == "" {
		return nil, errors.New("flag -output is required")
	}
	if err := checkVerbosity(c.verbosity); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolve replaces a directory input by the network object it contains, and
// finds the default parameter file.
func (c *buildConfig) resolve() error {
	st, err := os.Stat(c.input)
	if err != nil {
		return err
	}
	if st.IsDir() {
		c.input = filepath.Join(c.input, c.name+".elf")
	}
	if c.params == "" {
		name := filepath.Join(filepath.Dir(c.input), c.name+"_reloc_mempools.raw")
		if st, err := os.Stat(name); err == nil && st.Mode().IsRegular() {
			c.params = name
		}
	}
	return nil
}

// imagePath returns the name of the image file. An output without an
// extension is a directory, which is created if necessary.
func (c *buildConfig) imagePath() (string, error) {
	st, err := os.Stat(c.output)
	isDir := err == nil && st.IsDir()
	if !isDir && filepath.Ext(c.output) != "" {
		return c.output, nil
	}
	if err := os.MkdirAll(c.output, 0o777); err != nil {
		return "", err
	}
	return filepath.Join(c.output, c.name+"_rel.bin"), nil
}

// A checkConfig holds the options of the check command.
type checkConfig struct {
	input     string
	verbosity int
}

func parseCheckFlags(args []string) (*checkConfig, error) {
	var c checkConfig
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	verbosityFlag(fs, &c.verbosity)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("got %d arguments, expected 1", fs.NArg())
	}
	c.input = fs.Arg(0)
	if err := checkVerbosity(c.verbosity); err != nil {
		return nil, err
	}
	return &c, nil
}

// A mempoolsConfig holds the options of the mempools command.
type mempoolsConfig struct {
	config    string
	output    string
	keepGoing bool
	verbosity int
}

func parseMempoolsFlags(args []string) (*mempoolsConfig, error) {
	var c mempoolsConfig
	fs := flag.NewFlagSet("mempools", flag.ContinueOnError)
	fs.StringVar(&c.config, "config", "", "JSON memory pool list")
	fs.StringVar(&c.output, "output", "", "parameter blob file")
	fs.BoolVar(&c.keepGoing, "k", false, "report every unsupported pool")
	verbosityFlag(fs, &c.verbosity)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf("got %d arguments, expected 0", fs.NArg())
	}
	if c.config == "" {
		return nil, errors.New("flag -config is required")
	}
	if err := checkVerbosity(c.verbosity); err != nil {
		return nil, err
	}
	return &c, nil
}
