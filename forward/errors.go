package forward

import "fmt"

// UnsupportedModeError reports a configuration or request the simulator
// refuses to run rather than produce wrong data.
type UnsupportedModeError struct {
	Mode   string
	Reason string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("unsupported mode %s: %s", e.Mode, e.Reason)
}
