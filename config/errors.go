package config

import "github.com/pkg/errors"

var (
	// ErrConfiguration covers an unset or invalid rate, a mode index out of
	// range and an offset the translator cannot reach.
	ErrConfiguration = errors.New("configuration error")
	// ErrCapacity is returned for blocks larger than the fixed maximum.
	ErrCapacity = errors.New("capacity error")
	// ErrState is returned when processing is requested before a sample rate is set.
	ErrState = errors.New("state error")
)

const (
	// MaxInBufSize bounds the number of complex samples in one input block.
	MaxInBufSize = 250000
	// MaxMagBufSize bounds intermediate demodulator work chunks.
	MaxMagBufSize = 32000
)
