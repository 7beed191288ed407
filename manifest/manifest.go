// Package manifest handles r0vm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the project configuration file.
const FileName = "r0vm.toml"

// Manifest represents an r0vm.toml project configuration.
type Manifest struct {
	Program ProgramConfig `toml:"program"`
	IO      IOConfig      `toml:"io"`
	Log     LogConfig     `toml:"log"`
	Trace   TraceConfig   `toml:"trace"`
	Store   StoreConfig   `toml:"store"`

	// Dir is the directory containing the r0vm.toml file (set at load time).
	Dir string `toml:"-"`
}

// ProgramConfig selects the program to run.
type ProgramConfig struct {
	Path   string `toml:"path"`
	Format Format `toml:"format"`
}

// IOConfig redirects the program's standard streams. Empty means the
// process streams.
type IOConfig struct {
	Stdin  string `toml:"stdin"`
	Stdout string `toml:"stdout"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// TraceConfig controls per-instruction tracing.
type TraceConfig struct {
	Enabled  bool   `toml:"enabled"`
	MaxSteps uint64 `toml:"max-steps"`
}

// StoreConfig locates the program store database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// Format is the on-disk encoding of a program file.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatBinary Format = "binary"
	FormatCBOR   Format = "cbor"
	FormatAsm    Format = "asm"
)

// ParseFormat validates a format name. The empty string means auto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatBinary, FormatCBOR, FormatAsm:
		return f, nil
	default:
		return "", fmt.Errorf("unknown program format %q", s)
	}
}

// UnmarshalText lets toml reject unknown formats at load time.
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Default returns the configuration used when no r0vm.toml exists.
func Default() *Manifest {
	return &Manifest{
		Program: ProgramConfig{Format: FormatAuto},
		Log:     LogConfig{Verbosity: 1},
		Store:   StoreConfig{Path: filepath.Join(".r0vm", "store.db")},
	}
}

// Load parses an r0vm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Program.Format == "" {
		m.Program.Format = FormatAuto
	}
	if m.Store.Path == "" {
		m.Store.Path = Default().Store.Path
	}

	return m, nil
}

// FindAndLoad walks up from startDir to find an r0vm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Write stores m as dir/r0vm.toml, refusing to overwrite an existing file.
func Write(dir string, m *Manifest) error {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(m); err != nil {
		f.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return f.Close()
}

// Resolve returns p relative to the manifest directory. Absolute paths and
// empty strings are returned unchanged.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// ProgramPath returns the absolute path of the configured program.
func (m *Manifest) ProgramPath() string {
	return m.Resolve(m.Program.Path)
}

// StorePath returns the absolute path of the program store database.
func (m *Manifest) StorePath() string {
	return m.Resolve(m.Store.Path)
}
