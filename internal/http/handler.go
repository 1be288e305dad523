package http

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go.ngs.io/tec-interp/internal/adapter/archive"
	"go.ngs.io/tec-interp/internal/adapter/krige"
	"go.ngs.io/tec-interp/internal/adapter/store/results"
	"go.ngs.io/tec-interp/internal/domain"
	"go.ngs.io/tec-interp/internal/usecase"
)

// Archive is the map archive the handlers read from.
type Archive interface {
	usecase.EpochSource
	Resolution() archive.Resolution
	FileName(t time.Time) string
	URLFor(t time.Time) string
	Slots(t time.Time) []archive.SlotRef
}

// RunStore persists batch results.
type RunStore interface {
	Save(run results.Run) error
	Get(id string) (results.Run, error)
	List() ([]results.Summary, error)
}

// Handler handles HTTP requests for TEC interpolation.
type Handler struct {
	archive Archive
	runs    RunStore
	krige   krige.Config
	params  usecase.InterpolationParams
	log     logrus.FieldLogger
}

// NewHandler creates a new HTTP handler. params and kc are the defaults a
// request may override.
func NewHandler(a Archive, runs RunStore, kc krige.Config, params usecase.InterpolationParams, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{archive: a, runs: runs, krige: kc, params: params, log: log}
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"resolution": h.archive.Resolution().String(),
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

// slotResponse describes one map of an archive file.
type slotResponse struct {
	Date string    `json:"date"`
	Slot int       `json:"slot"`
	Time time.Time `json:"time"`
	File string    `json:"file"`
	URL  string    `json:"url"`
}

// GetArchive handles GET /v1/tec/archive: the files and slots needed to
// interpolate at a time.
func (h *Handler) GetArchive(c *gin.Context) {
	t, err := time.Parse(time.RFC3339, c.Query("time"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid time (expected RFC3339): %v", err)})
		return
	}

	refs := h.archive.Slots(t)
	slots := make([]slotResponse, len(refs))
	for i, ref := range refs {
		slots[i] = slotResponse{
			Date: ref.Date.String(),
			Slot: ref.Slot,
			Time: ref.Time,
			File: h.archive.FileName(ref.Time),
			URL:  h.archive.URLFor(ref.Time),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"time":       t.UTC(),
		"resolution": h.archive.Resolution().String(),
		"type":       h.archive.Resolution().Type(),
		"slots":      slots,
	})
}

// GetNeighborhood handles GET /v1/tec/neighborhood.
func (h *Handler) GetNeighborhood(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid latitude: %v", err)})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid longitude: %v", err)})
		return
	}
	if _, _, err := domain.GeoToGrid(lon, lat); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	radius := h.params.RadiusKm
	if s := c.Query("radius_km"); s != "" {
		if radius, err = strconv.ParseFloat(s, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid radius_km: %v", err)})
			return
		}
	}
	maxPoints := h.params.MaxPoints
	if s := c.Query("max_points"); s != "" {
		if maxPoints, err = strconv.Atoi(s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid max_points: %v", err)})
			return
		}
	}
	var perm domain.Permuter
	if s := c.Query("seed"); s != "" {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid seed: %v", err)})
			return
		}
		perm = rand.New(rand.NewSource(seed))
	}

	lats, lons := domain.NeighborsWithin(lat, lon, radius, maxPoints, perm)
	c.JSON(http.StatusOK, gin.H{
		"lat":        lat,
		"lon":        lon,
		"radius_km":  radius,
		"max_points": maxPoints,
		"count":      len(lats),
		"lats":       lats,
		"lons":       lons,
	})
}

// InterpolateRequest is the body of POST /v1/tec/interpolate. Zero-valued
// settings fall back to the server defaults.
type InterpolateRequest struct {
	Points    []domain.QueryPoint `json:"points" binding:"required,min=1,max=100000"`
	Method    string              `json:"method" binding:"omitempty,oneof=ordinary kriging bilinear"`
	Variogram string              `json:"variogram" binding:"omitempty,oneof=exponential spherical gaussian linear"`
	NLags     int                 `json:"nlags" binding:"omitempty,gte=1,lte=1000"`
	RadiusKm  float64             `json:"radius_km" binding:"omitempty,gt=0,lte=20000"`
	MaxPoints int                 `json:"max_points" binding:"omitempty,gte=1,lte=5000"`
	Seed      int64               `json:"seed"`

	// Optional ionospheric correction of per-point sea level anomalies.
	SLA         []float64 `json:"sla"`
	Scale       float64   `json:"scale"`
	FrequencyHz float64   `json:"frequency_hz" binding:"omitempty,gt=0"`
}

// InterpolateResponse is the result of a batch.
type InterpolateResponse struct {
	RunID         string    `json:"run_id"`
	Total         int       `json:"total"`
	Values        []float64 `json:"values"`
	Variances     []float64 `json:"variances"`
	FailedIndices []int     `json:"failed_indices"`
	Corrected     []float64 `json:"corrected_sla,omitempty"`
	ElapsedMs     int64     `json:"elapsed_ms"`
}

// Interpolate handles POST /v1/tec/interpolate.
func (h *Handler) Interpolate(c *gin.Context) {
	var req InterpolateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SLA != nil && len(req.SLA) != len(req.Points) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("sla has %d values for %d points", len(req.SLA), len(req.Points))})
		return
	}

	it, err := h.interpolator(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		res       *usecase.BatchResult
		corrected []float64
		kind      = usecase.KindInterpolate
	)
	if req.SLA != nil {
		kind = usecase.KindCorrect
		var out *usecase.CorrectedTrack
		out, res, err = it.CorrectTrack(c.Request.Context(), trackOf(req), domain.Correction{Scale: req.Scale, FrequencyHz: req.FrequencyHz})
		if out != nil {
			corrected = out.Corrected
		}
	} else {
		res, err = it.InterpolateBatch(c.Request.Context(), req.Points)
	}
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if h.runs != nil {
		run, err := res.Record(kind)
		if err == nil {
			err = h.runs.Save(run)
		}
		if err != nil {
			h.log.WithError(err).WithField("run_id", res.RunID).Warn("failed to store run")
		}
	}

	c.JSON(http.StatusOK, InterpolateResponse{
		RunID:         res.RunID,
		Total:         res.Total,
		Values:        res.Values,
		Variances:     res.Variances,
		FailedIndices: res.FailedIndices,
		Corrected:     corrected,
		ElapsedMs:     res.Elapsed.Milliseconds(),
	})
}

func (h *Handler) interpolator(req InterpolateRequest) (*usecase.Interpolator, error) {
	kc := h.krige
	if req.Method != "" {
		kc.Method = req.Method
	}
	if req.Variogram != "" {
		m, err := krige.ParseModel(req.Variogram)
		if err != nil {
			return nil, err
		}
		kc.Model = m
	}
	if req.NLags > 0 {
		kc.NLags = req.NLags
	}
	est, err := krige.New(kc)
	if err != nil {
		return nil, err
	}

	p := h.params
	if req.RadiusKm > 0 {
		p.RadiusKm = req.RadiusKm
	}
	if req.MaxPoints > 0 {
		p.MaxPoints = req.MaxPoints
	}
	if req.Seed != 0 {
		p.Seed = req.Seed
	}
	// Purging would race with other requests sharing the cache.
	p.PurgeCache = false
	return usecase.NewInterpolator(h.archive, est, p, h.log)
}

func trackOf(req InterpolateRequest) domain.Track {
	tr := domain.Track{SLA: req.SLA}
	for _, q := range req.Points {
		tr.Times = append(tr.Times, q.Time)
		tr.Lats = append(tr.Lats, q.Lat)
		tr.Lons = append(tr.Lons, q.Lon)
	}
	return tr
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRange), errors.Is(err, domain.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDownload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GetRun handles GET /v1/tec/runs/:id.
func (h *Handler) GetRun(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run storage is disabled"})
		return
	}
	run, err := h.runs.Get(c.Param("id"))
	if errors.Is(err, results.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListRuns handles GET /v1/tec/runs.
func (h *Handler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []results.Summary{}, "count": 0})
		return
	}
	runs, err := h.runs.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []results.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}
