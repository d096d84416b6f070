package distance

import "fmt"

// ConfigurationError reports an invalid or degenerate configuration:
// an unplannable range, mismatched profile or step length across a
// processor's subsweeps, non-contiguous subsweeps, or missing phase
// enhancement. It is fatal to the operation that raised it and is never
// retried automatically.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// CalibrationStateError reports missing or stale calibration relative to
// the active configuration. It is raised before any device I/O and is
// recoverable by re-running the indicated calibration step.
type CalibrationStateError struct {
	Reason string
}

func (e *CalibrationStateError) Error() string {
	return "calibration error: " + e.Reason
}

func calibrationErrorf(format string, args ...any) error {
	return &CalibrationStateError{Reason: fmt.Sprintf(format, args...)}
}

// LifecycleError reports an operation invoked in the wrong detector
// state (start while started, get-next while stopped, double stop).
// These are programming-contract violations and are not retried.
type LifecycleError struct {
	Reason string
}

func (e *LifecycleError) Error() string {
	return "lifecycle error: " + e.Reason
}

func lifecycleErrorf(format string, args ...any) error {
	return &LifecycleError{Reason: fmt.Sprintf(format, args...)}
}
