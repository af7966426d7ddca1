package store

import "time"

// nowFunc is a seam for deterministic tests; production code never
// overrides it.
var nowFunc = time.Now

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
