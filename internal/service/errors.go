package service

import "errors"

// ErrEmptyAddress is returned for an address that is blank after trimming.
var ErrEmptyAddress = errors.New("address must not be empty")

// Stage names the pipeline step that failed.
type Stage string

const (
	StageGeocode Stage = "geocode"
	StageWeather Stage = "weather"
)

// LookupError wraps a component failure with the stage it happened in. Its message is
// suitable for showing to the caller; Unwrap exposes the component error for errors.Is/As.
type LookupError struct {
	Stage Stage
	Err   error
}

func (e *LookupError) Error() string {
	switch e.Stage {
	case StageGeocode:
		return "Cannot geocode address: " + e.Err.Error()
	case StageWeather:
		return "Weather API error: " + e.Err.Error()
	default:
		return string(e.Stage) + ": " + e.Err.Error()
	}
}

func (e *LookupError) Unwrap() error { return e.Err }
