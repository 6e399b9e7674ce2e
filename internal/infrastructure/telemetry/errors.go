package telemetry

import "errors"

// ErrMeterNil is returned when instruments are requested without a meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")
