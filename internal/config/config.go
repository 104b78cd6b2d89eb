// Package config holds the settings of a conversion run. Values come from
// defaults, then OBJ2KMZ_* environment variables, then command line flags.
package config

import (
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/geoanchor/obj2kmz/internal/assimp"
	"github.com/geoanchor/obj2kmz/internal/ground"
	"github.com/geoanchor/obj2kmz/internal/kmz"
	"github.com/geoanchor/obj2kmz/internal/logging"
	"github.com/geoanchor/obj2kmz/internal/observability"
)

// Config holds all configuration values of a run.
type Config struct {
	Orientation kmz.Orientation
	// ZOffset overrides ground estimation when non-nil.
	ZOffset    *float64
	NoTextures bool

	Ground           ground.Config
	TolerantSampling bool

	AssimpBinary string
	AssimpArgs   []string

	// DTMPath switches the placement to absolute altitude sampled from a
	// terrain raster.
	DTMPath  string
	Altitude float64

	WorkRoot    string // parent of the scoped work directory, os.TempDir when empty
	MetricsFile string

	Logging logging.Config
	Tracing observability.TracingConfig
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Orientation:  kmz.DefaultOrientation(),
		Ground:       ground.DefaultConfig(),
		AssimpBinary: assimp.DefaultBinary,
		Logging:      logging.Config{Level: "info", Format: "text"},
		Tracing:      observability.TracingConfig{ServiceName: "obj2kmz", Exporter: "stdout", SampleRatio: 1},
	}
}

// Load returns Default with the environment applied.
func Load() (Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from OBJ2KMZ_* variables. Malformed values are
// an error rather than silently ignored.
func (c *Config) ApplyEnv() error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, key+"="+strconv.Quote(v)+" is not a number")
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key+"="+strconv.Quote(v)+" is not an integer")
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, key+"="+strconv.Quote(v)+" is not a boolean")
				return
			}
			*dst = b
		}
	}

	num("OBJ2KMZ_HEADING", &c.Orientation.Heading)
	num("OBJ2KMZ_TILT", &c.Orientation.Tilt)
	num("OBJ2KMZ_ROLL", &c.Orientation.Roll)
	if v, ok := os.LookupEnv("OBJ2KMZ_Z_OFFSET"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, "OBJ2KMZ_Z_OFFSET="+strconv.Quote(v)+" is not a number")
		} else {
			c.ZOffset = &f
		}
	}
	boolean("OBJ2KMZ_NO_TEXTURES", &c.NoTextures)

	str("OBJ2KMZ_GROUND_STRATEGY", &c.Ground.Strategy)
	num("OBJ2KMZ_PERCENTILE", &c.Ground.Percentile)
	num("OBJ2KMZ_RANSAC_THRESHOLD", &c.Ground.Threshold)
	integer("OBJ2KMZ_RANSAC_ITERATIONS", &c.Ground.MaxIterations)
	if v, ok := os.LookupEnv("OBJ2KMZ_SEED"); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, "OBJ2KMZ_SEED="+strconv.Quote(v)+" is not an unsigned integer")
		} else {
			c.Ground.Seed = seed
		}
	}
	integer("OBJ2KMZ_HISTOGRAM_BINS", &c.Ground.Bins)
	boolean("OBJ2KMZ_TOLERANT_SAMPLING", &c.TolerantSampling)

	str("OBJ2KMZ_ASSIMP", &c.AssimpBinary)
	if v := os.Getenv("OBJ2KMZ_ASSIMP_ARGS"); v != "" {
		c.AssimpArgs = strings.Fields(v)
	}
	str("OBJ2KMZ_DTM", &c.DTMPath)
	num("OBJ2KMZ_ALTITUDE", &c.Altitude)
	str("OBJ2KMZ_WORK_DIR", &c.WorkRoot)
	str("OBJ2KMZ_METRICS_FILE", &c.MetricsFile)

	str("OBJ2KMZ_LOG_LEVEL", &c.Logging.Level)
	str("OBJ2KMZ_LOG_FORMAT", &c.Logging.Format)

	tracing := observability.TracingConfigFromEnv()
	if _, ok := os.LookupEnv("OBJ2KMZ_TRACING_ENABLED"); ok {
		c.Tracing = tracing
	}

	if len(errs) > 0 {
		return errors.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if _, err := ground.New(c.Ground); err != nil {
		return errors.Wrap(err, "ground estimation")
	}
	if c.AssimpBinary == "" {
		return errors.New("assimp binary must not be empty")
	}
	for name, v := range map[string]float64{
		"heading": c.Orientation.Heading,
		"tilt":    c.Orientation.Tilt,
		"roll":    c.Orientation.Roll,
	} {
		if !(v >= -360 && v <= 360) {
			return errors.Errorf("%s %v outside -360..360", name, v)
		}
	}
	if c.ZOffset != nil && !finite(*c.ZOffset) {
		return errors.Errorf("z offset %v is not a finite number", *c.ZOffset)
	}
	if !finite(c.Altitude) {
		return errors.Errorf("altitude %v is not a finite number", c.Altitude)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return errors.Errorf("log format %q must be text or json", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return errors.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
