// Command obj2kmz places a scanned OBJ mesh on the globe: it reads the scan's
// UTM georeference, levels the mesh's ground to zero and writes a KMZ archive
// that earth viewers load at the right position.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/geoanchor/obj2kmz/internal/assimp"
	"github.com/geoanchor/obj2kmz/internal/config"
	"github.com/geoanchor/obj2kmz/internal/errdefs"
	"github.com/geoanchor/obj2kmz/internal/ground"
	"github.com/geoanchor/obj2kmz/internal/kmz"
	"github.com/geoanchor/obj2kmz/internal/logging"
	"github.com/geoanchor/obj2kmz/internal/mesh"
	"github.com/geoanchor/obj2kmz/internal/observability"
	"github.com/geoanchor/obj2kmz/internal/pipeline"
	"github.com/geoanchor/obj2kmz/internal/projection"
	"github.com/geoanchor/obj2kmz/internal/terrain"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "obj2kmz: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg, convert).ExecuteContext(ctx); err != nil {
		if kind := errdefs.KindOf(err); kind != errdefs.KindUnknown {
			fmt.Fprintf(os.Stderr, "obj2kmz: %s: %v\n", kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "obj2kmz: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

type runFunc func(ctx context.Context, cfg config.Config, args []string) error

func newRootCmd(cfg config.Config, run runFunc) *cobra.Command {
	var (
		zOffset  float64
		verbose  bool
		tolerant bool
	)
	cmd := &cobra.Command{
		Use:   "obj2kmz <obj_file> <georef_file> <output_kmz>",
		Short: "Convert a georeferenced OBJ scan to a KMZ model",
		Long: `Convert a textured OBJ mesh and its UTM georeferencing file into a KMZ
archive placed at the scan's position.

The georeferencing file holds two lines: a coordinate system label ending in
the UTM zone and hemisphere (e.g. "WGS84 UTM 35N"), then the easting and
northing of the mesh origin. obj_file may also be a zip, tar or 7z bundle
holding a single OBJ with its materials and textures.`,
		Args:          cobra.ExactArgs(3),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("z-offset") {
				v := zOffset
				cfg.ZOffset = &v
			}
			if verbose {
				cfg.Logging.Level = "debug"
			}
			if tolerant {
				cfg.TolerantSampling = true
			}
			if err := cfg.Validate(); err != nil {
				return errdefs.Validation("parse options", err)
			}
			return run(cmd.Context(), cfg, args)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&cfg.NoTextures, "no-textures", cfg.NoTextures, "do not include textures in the archive")
	f.Float64Var(&zOffset, "z-offset", 0, "vertical offset to subtract from every vertex instead of estimating it")
	f.Float64Var(&cfg.Orientation.Heading, "heading", cfg.Orientation.Heading, "model heading in degrees")
	f.Float64Var(&cfg.Orientation.Tilt, "tilt", cfg.Orientation.Tilt, "model tilt in degrees")
	f.Float64Var(&cfg.Orientation.Roll, "roll", cfg.Orientation.Roll, "model roll in degrees")
	f.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	f.StringVar(&cfg.Ground.Strategy, "ground-strategy", cfg.Ground.Strategy, "offset estimator: percentile, ransac or histogram")
	f.Float64Var(&cfg.Ground.Percentile, "percentile", cfg.Ground.Percentile, "height percentile taken as ground (percentile strategy)")
	f.Float64Var(&cfg.Ground.Threshold, "ransac-threshold", cfg.Ground.Threshold, "inlier distance in mesh units (ransac strategy)")
	f.IntVar(&cfg.Ground.MaxIterations, "ransac-iterations", cfg.Ground.MaxIterations, "sampling iterations (ransac strategy)")
	f.Uint64Var(&cfg.Ground.Seed, "seed", cfg.Ground.Seed, "random seed for the ransac strategy, 0 seeds from the clock")
	f.BoolVar(&tolerant, "tolerant-sampling", cfg.TolerantSampling, "skip malformed vertex lines while estimating the offset")

	f.StringVar(&cfg.AssimpBinary, "assimp", cfg.AssimpBinary, "assimp executable")
	f.StringSliceVar(&cfg.AssimpArgs, "assimp-arg", cfg.AssimpArgs, "extra argument passed to assimp export (repeatable)")
	f.StringVar(&cfg.DTMPath, "dtm", cfg.DTMPath, "terrain raster in the anchor's UTM zone; places the model at absolute altitude")
	f.Float64Var(&cfg.Altitude, "altitude", cfg.Altitude, "altitude in metres added to the terrain, or above ground without --dtm")
	f.StringVar(&cfg.WorkRoot, "work-dir", cfg.WorkRoot, "parent directory of the temporary work directory")
	f.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "write Prometheus metrics to this file after the run")
	f.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format, "log format: text or json")
	return cmd
}

// convert wires the production collaborators and runs one conversion.
func convert(ctx context.Context, cfg config.Config, args []string) (err error) {
	log := logging.New(cfg.Logging)

	shutdown, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(ctx, shutdown, log)

	var metrics *observability.Collector
	if cfg.MetricsFile != "" {
		if metrics, err = observability.NewCollector(prometheus.NewRegistry()); err != nil {
			return err
		}
		defer func() {
			if werr := metrics.WriteTextfile(cfg.MetricsFile); werr != nil {
				log.Warn(ctx, "metrics not written", logging.Err(werr))
			}
		}()
	}

	estimator, err := ground.New(cfg.Ground)
	if err != nil {
		return errdefs.Validation("select ground estimator", err)
	}

	deps := pipeline.Deps{
		Converter: assimp.New(cfg.AssimpBinary, cfg.AssimpArgs...),
		Packager: &kmz.Packager{Skipped: func(path string, reason error) {
			log.Warn(ctx, "texture left out of the archive", logging.String("texture", path), logging.Err(reason))
		}},
		Projector: projection.New(),
		Estimator: estimator,
		Logger:    log,
		Metrics:   metrics,
	}
	if cfg.DTMPath != "" {
		dtm, err := terrain.Open(cfg.DTMPath)
		if err != nil {
			return errdefs.Validation("open terrain model", err)
		}
		defer dtm.Close()
		info := dtm.Info()
		log.Debug(ctx, "terrain model loaded",
			logging.String("path", cfg.DTMPath),
			logging.Int("width", info.Width),
			logging.Int("height", info.Height),
			logging.Float("pixel_width", info.PixelWidth),
		)
		deps.Terrain = dtm
	}

	p, err := pipeline.New(deps, pipeline.WithWorkRoot(cfg.WorkRoot))
	if err != nil {
		return err
	}

	sampling := mesh.Strict
	if cfg.TolerantSampling {
		sampling = mesh.Tolerant
	}
	_, err = p.Run(ctx, pipeline.Request{
		MeshPath:    args[0],
		GeorefPath:  args[1],
		OutputPath:  args[2],
		ZOffset:     cfg.ZOffset,
		NoTextures:  cfg.NoTextures,
		Orientation: cfg.Orientation,
		Altitude:    cfg.Altitude,
		Sampling:    sampling,
	})
	if err != nil {
		log.Error(ctx, "conversion failed", logging.String("kind", errdefs.KindOf(err).String()), logging.Err(err))
	}
	return err
}
