// Package pipeline sequences a conversion: read the georeference, estimate and
// remove the mesh's vertical offset, convert the mesh and package the placed
// model.
package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/geoanchor/obj2kmz/internal/bundle"
	"github.com/geoanchor/obj2kmz/internal/errdefs"
	"github.com/geoanchor/obj2kmz/internal/georef"
	"github.com/geoanchor/obj2kmz/internal/ground"
	"github.com/geoanchor/obj2kmz/internal/kmz"
	"github.com/geoanchor/obj2kmz/internal/logging"
	"github.com/geoanchor/obj2kmz/internal/mesh"
	"github.com/geoanchor/obj2kmz/internal/observability"
	"github.com/geoanchor/obj2kmz/internal/terrain"
)

// Stage names used for spans and duration metrics.
const (
	StageValidate = "validate"
	StageBundle   = "extract_bundle"
	StageGeoref   = "georeference"
	StageTerrain  = "terrain"
	StageEstimate = "estimate_offset"
	StageAlign    = "apply_offset"
	StageConvert  = "convert"
	StageTextures = "discover_textures"
	StagePackage  = "package"
)

const (
	offsetManual   = "manual"
	alignedSuffix  = "_aligned"
	workDirPattern = "obj2kmz-*"
)

// Converter turns a mesh into the format referenced by the placement.
type Converter interface {
	Convert(ctx context.Context, src, destDir string) (string, error)
}

// Packager writes the final archive.
type Packager interface {
	Pack(ctx context.Context, placement kmz.Placement, modelPath string, textures []string, out string) (string, error)
}

// Deps are the collaborators of a Pipeline. Terrain and Metrics are optional.
type Deps struct {
	Converter Converter
	Packager  Packager
	Projector georef.Projector
	Estimator ground.Estimator
	Terrain   terrain.Sampler
	Logger    logging.Logger
	Metrics   *observability.Collector
}

// Option tunes a Pipeline.
type Option func(*Pipeline)

// WithWorkRoot places the scoped work directory below dir instead of the
// system temporary directory.
func WithWorkRoot(dir string) Option {
	return func(p *Pipeline) { p.workRoot = dir }
}

// Pipeline runs conversions. It holds no per-run state and may be reused.
type Pipeline struct {
	deps     Deps
	workRoot string
}

// New validates deps and returns a Pipeline. A nil Estimator selects the
// default percentile estimator.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	if deps.Converter == nil || deps.Packager == nil || deps.Projector == nil {
		return nil, errors.New("pipeline needs a converter, a packager and a projector")
	}
	if deps.Estimator == nil {
		est, err := ground.NewPercentile(ground.DefaultPercentile)
		if err != nil {
			return nil, err
		}
		deps.Estimator = est
	}
	if deps.Logger == nil {
		deps.Logger = logging.Noop()
	}
	p := &Pipeline{deps: deps}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Request describes one conversion.
type Request struct {
	MeshPath    string
	GeorefPath  string
	OutputPath  string
	ZOffset     *float64 // nil estimates the offset
	NoTextures  bool
	Orientation kmz.Orientation
	// Altitude is added to the terrain elevation, or used relative to the
	// ground when no terrain is configured.
	Altitude float64
	Sampling mesh.Mode
}

// Result summarises a finished conversion.
type Result struct {
	Output       string
	Anchor       georef.Anchor
	Position     georef.GeodeticPoint
	Altitude     float64
	AltitudeMode string
	Offset       float64
	OffsetSource string
	Degenerate   bool
	Vertices     int
	Textures     []string
	Duration     time.Duration
}

// Run performs the conversion described by req. The work directory is removed
// on every return path.
func (p *Pipeline) Run(ctx context.Context, req Request) (res Result, err error) {
	ctx, log := logging.WithRunLogger(ctx, p.deps.Logger)
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if err != nil {
			p.deps.Metrics.RecordConversion(false, errdefs.KindOf(err).String())
			return
		}
		p.deps.Metrics.RecordConversion(true, "")
	}()

	log.Info(ctx, "starting conversion",
		logging.String("mesh", req.MeshPath),
		logging.String("georef", req.GeorefPath),
		logging.String("output", req.OutputPath),
	)

	if err := p.stage(ctx, StageValidate, func(context.Context) error { return validate(req) }); err != nil {
		return res, err
	}

	work, err := os.MkdirTemp(p.workRoot, workDirPattern)
	if err != nil {
		return res, errdefs.FileProcessing("create work directory", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(work); rmErr != nil {
			log.Warn(ctx, "work directory not removed", logging.String("dir", work), logging.Err(rmErr))
		}
	}()
	log.Debug(ctx, "work directory created", logging.String("dir", work))

	meshPath := req.MeshPath
	if err := p.stage(ctx, StageBundle, func(ctx context.Context) error {
		var uerr error
		meshPath, uerr = p.unbundle(ctx, req.MeshPath, work)
		return uerr
	}); err != nil {
		return res, err
	}

	if err := p.stage(ctx, StageGeoref, func(context.Context) error {
		anchor, gerr := georef.ReadFile(req.GeorefPath)
		if gerr != nil {
			return gerr
		}
		res.Anchor = anchor
		res.Position, gerr = georef.ToGeodetic(p.deps.Projector, anchor)
		return gerr
	}); err != nil {
		return res, err
	}
	log.Info(ctx, "anchor converted",
		logging.Float("easting", res.Anchor.Easting),
		logging.Float("northing", res.Anchor.Northing),
		logging.String("zone", res.Anchor.ZoneLabel()),
		logging.Float("longitude", res.Position.Longitude),
		logging.Float("latitude", res.Position.Latitude),
	)

	res.Altitude, res.AltitudeMode = req.Altitude, kmz.RelativeToGround
	if p.deps.Terrain != nil {
		if err := p.stage(ctx, StageTerrain, func(context.Context) error {
			elevation, terr := p.deps.Terrain.ElevationAt(res.Anchor.Easting, res.Anchor.Northing)
			if terr != nil {
				return errdefs.Georeferencing("sample terrain at anchor", terr)
			}
			res.Altitude, res.AltitudeMode = elevation+req.Altitude, kmz.Absolute
			return nil
		}); err != nil {
			return res, err
		}
		log.Info(ctx, "terrain elevation sampled", logging.Float("altitude", res.Altitude))
	}

	if req.ZOffset != nil {
		res.Offset, res.OffsetSource = *req.ZOffset, offsetManual
		log.Info(ctx, "using manual vertical offset", logging.Float("offset", res.Offset))
	} else if err := p.stage(ctx, StageEstimate, func(ctx context.Context) error {
		return p.estimate(ctx, meshPath, req.Sampling, &res)
	}); err != nil {
		return res, err
	}
	p.deps.Metrics.SetOffset(res.Offset)

	toConvert := meshPath
	if res.Offset != 0 {
		if err := p.stage(ctx, StageAlign, func(ctx context.Context) error {
			var aerr error
			toConvert, aerr = p.align(ctx, meshPath, work, res.Offset)
			return aerr
		}); err != nil {
			return res, err
		}
	} else {
		log.Debug(ctx, "offset is zero, converting the mesh unchanged")
	}

	var modelPath string
	if err := p.stage(ctx, StageConvert, func(ctx context.Context) error {
		var cerr error
		modelPath, cerr = p.deps.Converter.Convert(ctx, toConvert, work)
		return cerr
	}); err != nil {
		return res, err
	}
	log.Info(ctx, "mesh converted", logging.String("model", filepath.Base(modelPath)))

	if !req.NoTextures {
		_ = p.stage(ctx, StageTextures, func(ctx context.Context) error {
			res.Textures = p.textures(ctx, meshPath)
			return nil
		})
	}
	p.deps.Metrics.SetTextures(len(res.Textures))

	placement := kmz.Placement{
		Name:         stem(req.MeshPath),
		Longitude:    res.Position.Longitude,
		Latitude:     res.Position.Latitude,
		Altitude:     res.Altitude,
		AltitudeMode: res.AltitudeMode,
		ModelHref:    filepath.Base(modelPath),
		Orientation:  req.Orientation,
	}
	if err := p.stage(ctx, StagePackage, func(ctx context.Context) error {
		var perr error
		res.Output, perr = p.deps.Packager.Pack(ctx, placement, modelPath, res.Textures, req.OutputPath)
		return perr
	}); err != nil {
		return res, err
	}

	log.Info(ctx, "conversion completed",
		logging.String("output", res.Output),
		logging.String("zone", res.Anchor.ZoneLabel()),
		logging.Float("longitude", res.Position.Longitude),
		logging.Float("latitude", res.Position.Latitude),
		logging.Float("offset", res.Offset),
		logging.String("offset_source", res.OffsetSource),
		logging.Int("textures", len(res.Textures)),
		logging.Any("duration", time.Since(start).Round(time.Millisecond).String()),
	)
	return res, nil
}

// stage runs fn inside a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, name, attribute.String("run_id", logging.RunIDFromContext(ctx)))
	start := time.Now()
	err := fn(ctx)
	p.deps.Metrics.ObserveStage(name, time.Since(start))
	observability.EndSpan(span, err)
	return err
}

func validate(req Request) error {
	const op = "validate inputs"
	for _, in := range []struct{ name, path string }{
		{"mesh file", req.MeshPath},
		{"georeferencing file", req.GeorefPath},
	} {
		if in.path == "" {
			return errdefs.Validation(op, errors.Errorf("%s not given", in.name))
		}
		info, err := os.Stat(in.path)
		if err != nil {
			return errdefs.Validation(op, errors.Wrapf(err, "%s not found", in.name))
		}
		if info.IsDir() {
			return errdefs.Validation(op, errors.Errorf("%s %s is a directory", in.name, in.path))
		}
	}

	if req.ZOffset != nil && (math.IsNaN(*req.ZOffset) || math.IsInf(*req.ZOffset, 0)) {
		return errdefs.Validation(op, errors.Errorf("z offset %v is not a finite number", *req.ZOffset))
	}
	if req.OutputPath == "" {
		return errdefs.Validation(op, errors.New("output path not given"))
	}
	if info, err := os.Stat(req.OutputPath); err == nil && info.IsDir() {
		return errdefs.Validation(op, errors.Errorf("output %s is a directory", req.OutputPath))
	}
	if dir := filepath.Dir(req.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errdefs.Validation(op, errors.Wrap(err, "create output directory"))
		}
	}
	return nil
}

// unbundle extracts an archived delivery into the work directory and returns
// the mesh inside it; plain meshes are returned unchanged.
func (p *Pipeline) unbundle(ctx context.Context, path, work string) (string, error) {
	archived, err := bundle.IsArchive(ctx, path)
	if err != nil {
		return "", errdefs.Validation("inspect mesh input", err)
	}
	if !archived {
		return path, nil
	}
	meshPath, err := bundle.Extract(ctx, path, filepath.Join(work, "input"))
	if err != nil {
		return "", errdefs.FileProcessing("extract mesh bundle", err)
	}
	logging.FromContext(ctx).Info(ctx, "mesh bundle extracted", logging.String("mesh", meshPath))
	return meshPath, nil
}

func (p *Pipeline) estimate(ctx context.Context, meshPath string, mode mesh.Mode, res *Result) error {
	log := logging.FromContext(ctx)
	skipped := 0
	vertices, err := mesh.ReadVertices(meshPath, mesh.ScanOptions{
		Mode: mode,
		OnSkip: func(le *mesh.LineError) {
			skipped++
			log.Warn(ctx, "skipping malformed vertex line", logging.Int("line", le.Line), logging.Err(le.Err))
		},
	})
	if err != nil {
		return errdefs.FileProcessing("extract vertices", err)
	}
	res.Vertices = len(vertices)
	p.deps.Metrics.SetVertices(len(vertices))

	est, err := p.deps.Estimator.Estimate(ctx, vertices)
	if err != nil {
		return errdefs.FileProcessing("estimate vertical offset", errors.Wrap(err, p.deps.Estimator.Name()))
	}
	res.Offset, res.OffsetSource, res.Degenerate = est.Offset, p.deps.Estimator.Name(), est.Degenerate
	if est.Degenerate {
		log.Warn(ctx, "fitted ground plane is near vertical, using mean inlier height",
			logging.Int("inliers", len(est.Inliers)))
	}
	log.Info(ctx, "vertical offset estimated",
		logging.String("strategy", res.OffsetSource),
		logging.Int("vertices", len(vertices)),
		logging.Int("skipped_lines", skipped),
		logging.Float("offset", res.Offset),
	)
	return nil
}

// align writes the offset-corrected copy of the mesh into the work directory
// together with its material library.
func (p *Pipeline) align(ctx context.Context, meshPath, work string, offset float64) (string, error) {
	log := logging.FromContext(ctx)
	aligned := filepath.Join(work, stem(meshPath)+alignedSuffix+".obj")
	log.Info(ctx, "applying vertical offset", logging.Float("offset", offset))
	if err := mesh.ApplyOffset(meshPath, aligned, offset); err != nil {
		return "", err
	}
	if _, err := mesh.StageMaterialLibrary(meshPath, work); err != nil {
		log.Warn(ctx, "material library not staged; the model may lose its materials", logging.Err(err))
	}
	return aligned, nil
}

// textures lists the mesh's diffuse maps, resolved against the mesh
// directory. Failures leave the model untextured.
func (p *Pipeline) textures(ctx context.Context, meshPath string) []string {
	log := logging.FromContext(ctx)
	found, err := mesh.DiscoverTextures(meshPath)
	if err != nil {
		log.Warn(ctx, "texture discovery failed, packaging without textures", logging.Err(err))
		return nil
	}
	dir := filepath.Dir(meshPath)
	for i, rel := range found {
		found[i] = filepath.Join(dir, rel)
	}
	log.Info(ctx, "textures found", logging.Int("count", len(found)))
	return found
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
