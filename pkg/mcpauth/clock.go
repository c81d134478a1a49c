package mcpauth

import "time"

// timeNow is a seam for deterministic tests of token-expiry computation.
var timeNow = time.Now
