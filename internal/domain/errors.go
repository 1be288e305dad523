package domain

import "errors"

var (
	// ErrRange is returned when a coordinate lies outside its valid domain.
	ErrRange = errors.New("coordinate out of range")

	// ErrDownload is returned when an archive file could not be fetched or
	// verified after the retry budget is exhausted.
	ErrDownload = errors.New("archive download failed")

	// ErrEstimation marks a per-point failure of the spatial estimator
	// (degenerate neighborhood, singular kriging system).
	ErrEstimation = errors.New("spatial estimation failed")

	// ErrDimensionMismatch marks parallel arrays whose lengths disagree.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)
