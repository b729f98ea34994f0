package indicator

import (
	"errors"
	"fmt"
)

// ErrZeroVolume is returned when a VWAP is requested while the cumulative
// session volume is zero; no meaningful price can be derived.
var ErrZeroVolume = errors.New("indicator: vwap cumulative volume is zero")

// InsufficientHistoryError reports that a window is too short for an
// indicator. Callers treat it as "indicator unavailable, proceed with
// fewer", never as a hard failure of the whole analysis.
type InsufficientHistoryError struct {
	Indicator string
	Needed    int
	Got       int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("indicator: %s needs %d candles, have %d", e.Indicator, e.Needed, e.Got)
}

// IsInsufficientHistory reports whether err is an InsufficientHistoryError.
func IsInsufficientHistory(err error) bool {
	var ih *InsufficientHistoryError
	return errors.As(err, &ih)
}
