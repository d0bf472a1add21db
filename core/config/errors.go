package config

import "errors"

var (
	// ErrNilConfig is returned when Load receives a nil pointer.
	ErrNilConfig = errors.New("config: nil target")

	// ErrParse wraps failures reported by the environment parser.
	ErrParse = errors.New("config: parse environment")
)
