package peerrpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig is returned by [LoadConfig] and [New] when a [Config] field is out of range.
var ErrInvalidConfig = errors.New("invalid config")

// Duration is a [time.Duration] that reads from TOML strings such as "90s" or "5m".
type Duration time.Duration

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(v)

	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config tunes how an [Engine] runs handlers.
//
// Example peerrpc.toml:
//
//	maxWorkers = 16
//	workerIdleTimeout = "30s"
//	serialBatch = false
type Config struct {
	// Upper bound on concurrently running handlers. Zero means 2*NumCPU.
	MaxWorkers int32 `toml:"maxWorkers"`
	// Idle workers are released after this long. Zero means [DefaultWorkerIdleTimeout],
	// a negative value keeps idle workers forever.
	WorkerIdleTimeout Duration `toml:"workerIdleTimeout"`
	// Run handlers on the goroutine calling [Engine.Receive] instead of the worker pool.
	NoRoutines bool `toml:"noRoutines"`
	// Run the elements of an inbound batch one after another instead of fanning them out.
	SerialBatch bool `toml:"serialBatch"`
}

// DefaultConfig returns the [Config] used when [New] is given none.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:        defaultMaxWorkers(),
		WorkerIdleTimeout: Duration(DefaultWorkerIdleTimeout),
	}
}

// LoadConfig reads a TOML file into a [Config]. Keys missing from the file keep their
// [DefaultConfig] value; unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.MaxWorkers < 0 {
		return fmt.Errorf("%w: maxWorkers must not be negative, got %d", ErrInvalidConfig, c.MaxWorkers)
	}

	return nil
}
