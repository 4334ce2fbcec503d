package cleaner

import _ "embed"

// Sample weekly response served when demo fallback is enabled and the
// cache is still empty.
//
//go:embed example_weekly.json
var demoWeekly []byte
