package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.ngs.io/tec-interp/internal/adapter/krige"
	"go.ngs.io/tec-interp/internal/domain"
)

var validate = validator.New()

// EpochSource supplies the maps bracketing a query time.
type EpochSource interface {
	ResolveEpochs(ctx context.Context, t time.Time) ([]*domain.MapEpoch, error)
	PrefetchAll(ctx context.Context, times []time.Time) error
	Purge() error
}

// InterpolationParams controls neighborhood selection and the worker pool.
type InterpolationParams struct {
	RadiusKm   float64 `json:"radius_km" validate:"gt=0,lte=20000"`
	MaxPoints  int     `json:"max_points" validate:"gte=1,lte=5000"`
	Workers    int     `json:"workers" validate:"gte=1,lte=1024"`
	PurgeCache bool    `json:"purge_cache"`
	// Seed fixes the neighborhood thinning; zero picks a seed per run.
	Seed int64 `json:"seed"`
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() InterpolationParams {
	return InterpolationParams{
		RadiusKm:  500,
		MaxPoints: 300,
		Workers:   runtime.NumCPU(),
	}
}

// Validate checks the parameter ranges.
func (p InterpolationParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid interpolation parameters: %w", err)
	}
	return nil
}

// Outcome is the result of interpolating one query point. Err is set, and
// State is StateFailed, when the estimator could not handle the
// neighborhood.
type Outcome struct {
	Index     int               `json:"index"`
	Point     domain.QueryPoint `json:"point"`
	State     domain.PointState `json:"-"`
	Estimate  domain.Estimate   `json:"estimate"`
	Epochs    []time.Time       `json:"epochs"`
	Neighbors int               `json:"neighbors"`
	Err       error             `json:"-"`
}

// Failed reports whether the estimator rejected this point.
func (o Outcome) Failed() bool {
	return o.State == domain.StateFailed
}

// BatchResult holds the successful estimates of a batch in input order and
// the ascending indices of the points that failed.
type BatchResult struct {
	RunID         string              `json:"run_id"`
	CreatedAt     time.Time           `json:"created_at"`
	Elapsed       time.Duration       `json:"elapsed_ns"`
	Params        InterpolationParams `json:"params"`
	Seed          int64               `json:"seed"`
	Total         int                 `json:"total"`
	Values        []float64           `json:"values"`
	Variances     []float64           `json:"variances"`
	FailedIndices []int               `json:"failed_indices"`
	Outcomes      []Outcome           `json:"-"`
}

// Apply removes the failed indices from parallel caller-side arrays so they
// line up with Values.
func (r *BatchResult) Apply(arrays ...[]float64) ([][]float64, error) {
	out := make([][]float64, len(arrays))
	for i, a := range arrays {
		if len(a) != r.Total {
			return nil, fmt.Errorf("array %d has %d elements, batch had %d: %w", i, len(a), r.Total, domain.ErrDimensionMismatch)
		}
		reduced, err := domain.DeleteIndices(a, r.FailedIndices)
		if err != nil {
			return nil, err
		}
		out[i] = reduced
	}
	return out, nil
}

// Interpolator estimates the field at arbitrary points and times from a map
// archive.
type Interpolator struct {
	source    EpochSource
	estimator krige.Estimator
	selector  *domain.Selector
	params    InterpolationParams
	log       logrus.FieldLogger
}

// NewInterpolator validates params and wires the interpolation pipeline.
func NewInterpolator(source EpochSource, estimator krige.Estimator, params InterpolationParams, log logrus.FieldLogger) (*Interpolator, error) {
	if source == nil || estimator == nil {
		return nil, errors.New("epoch source and estimator are required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Interpolator{
		source:    source,
		estimator: estimator,
		selector:  domain.DefaultSelector(),
		params:    params,
		log:       log,
	}, nil
}

// Params returns the validated parameters.
func (it *Interpolator) Params() InterpolationParams {
	return it.params
}

// InterpolateOne estimates the field at q. Estimation failures are reported
// in the Outcome; any other error is returned and should abort the caller.
// A nil Permuter uses the global random source for neighborhood thinning.
func (it *Interpolator) InterpolateOne(ctx context.Context, q domain.QueryPoint, p domain.Permuter) (Outcome, error) {
	out := Outcome{Point: q, State: domain.StatePending}
	if _, _, err := domain.GeoToGrid(q.Lon, q.Lat); err != nil {
		return out, err
	}

	out.State = domain.StateResolvingEpochs
	epochs, err := it.source.ResolveEpochs(ctx, q.Time)
	if err != nil {
		return out, fmt.Errorf("failed to resolve maps for %s: %w", q.Time.UTC().Format(time.RFC3339), err)
	}
	if len(epochs) == 0 || len(epochs) > 2 {
		return out, fmt.Errorf("expected 1 or 2 maps for %s, got %d", q.Time.UTC().Format(time.RFC3339), len(epochs))
	}

	lats, lons := it.selector.NeighborsWithin(q.Lat, q.Lon, it.params.RadiusKm, it.params.MaxPoints, p)
	out.State = domain.StateNeighborhoodSelected

	estimates := make([]domain.Estimate, len(epochs))
	for i, e := range epochs {
		nb, err := domain.SampleNeighborhood(e, lats, lons)
		if err != nil {
			return out, err
		}
		out.Neighbors = nb.Len()
		out.Epochs = append(out.Epochs, e.Time)

		out.State = domain.StateEstimating
		est, err := it.estimator.Estimate(nb, q.Lon, q.Lat)
		if errors.Is(err, domain.ErrEstimation) {
			out.State = domain.StateFailed
			out.Err = err
			return out, nil
		}
		if err != nil {
			return out, err
		}
		estimates[i] = est
	}

	if len(estimates) == 1 {
		out.Estimate = estimates[0]
	} else {
		out.Estimate = domain.BlendAt(estimates[0], estimates[1], epochs[0].Time, epochs[1].Time, q.Time)
	}
	out.State = domain.StateDone
	return out, nil
}

// InterpolateBatch interpolates every point. All archive files are fetched
// before any estimation starts, then points are processed by a bounded
// worker pool. Points the estimator rejects are listed in FailedIndices;
// any other error aborts the batch.
func (it *Interpolator) InterpolateBatch(ctx context.Context, points []domain.QueryPoint) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{
		RunID:     uuid.NewString(),
		CreatedAt: start.UTC(),
		Params:    it.params,
		Seed:      it.params.Seed,
		Total:     len(points),
	}
	if res.Seed == 0 {
		res.Seed = start.UnixNano()
	}
	log := it.log.WithFields(logrus.Fields{"run_id": res.RunID, "points": len(points)})

	times := make([]time.Time, len(points))
	for i, q := range points {
		if _, _, err := domain.GeoToGrid(q.Lon, q.Lat); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		times[i] = q.Time
	}

	if err := it.source.PrefetchAll(ctx, times); err != nil {
		return nil, fmt.Errorf("failed to prefetch maps: %w", err)
	}
	log.Info("maps prefetched, interpolating")

	outcomes := make([]Outcome, len(points))
	var done atomic.Int64
	step := int64(len(points) / 10)
	if step < 1 {
		step = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(it.params.Workers)
	for i := range points {
		g.Go(func() error {
			// Per-point sources keep the thinning reproducible whatever the
			// scheduling order.
			perm := rand.New(rand.NewSource(res.Seed + int64(i)))
			out, err := it.InterpolateOne(gctx, points[i], perm)
			if err != nil {
				return fmt.Errorf("point %d: %w", i, err)
			}
			out.Index = i
			outcomes[i] = out
			if out.Failed() {
				log.WithError(out.Err).WithField("index", i).Debug("estimation failed")
			}
			if n := done.Add(1); n%step == 0 || n == int64(len(points)) {
				log.Infof("interpolated %d/%d points", n, len(points))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Values = make([]float64, 0, len(points))
	res.Variances = make([]float64, 0, len(points))
	res.FailedIndices = []int{}
	for i, out := range outcomes {
		if out.Failed() {
			res.FailedIndices = append(res.FailedIndices, i)
			continue
		}
		res.Values = append(res.Values, out.Estimate.Value)
		res.Variances = append(res.Variances, out.Estimate.Variance)
	}
	res.Outcomes = outcomes
	res.Elapsed = time.Since(start)

	if it.params.PurgeCache {
		if err := it.source.Purge(); err != nil {
			log.WithError(err).Warn("failed to purge map cache")
		}
	}

	log.WithFields(logrus.Fields{
		"failed":  len(res.FailedIndices),
		"elapsed": res.Elapsed.Round(time.Millisecond),
	}).Info("batch complete")
	return res, nil
}
