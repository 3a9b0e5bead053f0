package retrypolicy

import "errors"

// ErrCircuitOpen is returned when a retry attempt is rejected because the
// associated circuit breaker is open.
var ErrCircuitOpen = errors.New("retrypolicy: circuit breaker open")
