package httpserver

import "time"

// ShutdownTimeout controls how long to wait for graceful shutdowns, including
// draining the export queue.
var ShutdownTimeout = 15 * time.Second
