package finding

import "errors"

// ErrUnknownSeverity marks an alert whose risk string is outside the
// known set. It is used for warnings, not for rejecting alerts.
var ErrUnknownSeverity = errors.New("finding: unknown severity")
