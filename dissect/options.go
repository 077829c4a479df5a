package dissect

import (
	"runtime"

	"github.com/pion/logging"

	"github.com/moffa90/go-bk7231/crypt"
)

// Config holds the dissection configuration.
type Config struct {
	// OutputDir is where artifacts are written
	OutputDir string

	// FilePrefix is prepended to artifact file names as "<prefix>_"
	FilePrefix string

	// Extract enables writing artifacts; when false only the report is built
	Extract bool

	// ReconstructRBL additionally writes header plus payload as a .rbl file
	ReconstructRBL bool

	// Workers bounds the number of containers extracted concurrently
	Workers int

	// Layout maps partition names to flash regions and cipher addresses
	Layout Layout

	// Registry selects the partitions that are decrypted
	Registry *crypt.Registry

	// SkipHeaderChecksum accepts RBL headers with a bad CRC
	SkipHeaderChecksum bool

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func defaultConfig() Config {
	return Config{
		OutputDir: ".",
		Extract:   true,
		Workers:   runtime.NumCPU(),
		Layout:    LayoutOTA1,
		Registry:  crypt.DefaultRegistry(),
	}
}

// Option is a functional option for configuring dissection.
type Option func(*Config)

// WithOutputDir sets the directory artifacts are written to.
func WithOutputDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.OutputDir = dir
		}
	}
}

// WithFilePrefix prefixes every artifact file name.
//
// Example:
//
//	dissect.Dissect(img, dissect.WithFilePrefix("dump"))  // dump_app.bin
func WithFilePrefix(prefix string) Option {
	return func(c *Config) {
		c.FilePrefix = prefix
	}
}

// WithExtract enables or disables writing artifacts.
func WithExtract(extract bool) Option {
	return func(c *Config) {
		c.Extract = extract
	}
}

// WithReconstructRBL enables writing standalone .rbl files.
func WithReconstructRBL(reconstruct bool) Option {
	return func(c *Config) {
		c.ReconstructRBL = reconstruct
	}
}

// WithWorkers sets the number of concurrent extraction workers.
func WithWorkers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// WithLayout sets the flash layout.
func WithLayout(layout Layout) Option {
	return func(c *Config) {
		c.Layout = layout
	}
}

// WithRegistry sets the decryption registry.
func WithRegistry(reg *crypt.Registry) Option {
	return func(c *Config) {
		if reg != nil {
			c.Registry = reg
		}
	}
}

// WithSkipHeaderChecksum accepts RBL headers whose CRC does not match.
func WithSkipHeaderChecksum(skip bool) Option {
	return func(c *Config) {
		c.SkipHeaderChecksum = skip
	}
}

// WithLoggerFactory sets the factory used to create the dissection logger.
func WithLoggerFactory(factory logging.LoggerFactory) Option {
	return func(c *Config) {
		c.LoggerFactory = factory
	}
}

func newConfig(opts []Option) Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
