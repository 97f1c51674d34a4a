package rawecho

import (
	"github.com/go-i2p/logger"
)

// log is the package-level logger shared by all rawecho components.
var log = logger.GetGoI2PLogger()
