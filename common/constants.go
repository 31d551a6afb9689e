package common

import "time"

// Version is stamped at build time via -ldflags.
var Version = "v0.1.0-dev"

// BuildTime is stamped at build time via -ldflags.
var BuildTime = "unknown"

// StartTime records when the process booted.
var StartTime = time.Now()
