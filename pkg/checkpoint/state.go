// Package checkpoint provides the durable record of the readiness gate: the
// rows observed at the last trigger, the next trigger threshold, and the window
// size chosen at that trigger.
package checkpoint

// Record is the only state that survives across process restarts.
type Record struct {
	LastRows   int64 `json:"last_rows"   yaml:"last_rows"`
	ExpectRows int64 `json:"expect_rows" yaml:"expect_rows"`
	LastWindow int64 `json:"last_window" yaml:"last_window"`
}

// Default builds the record used when no checkpoint file exists yet. The
// expectation equals usableRows, so the first invocation triggers as soon as
// the global row floor is met. With deferFirst the first trigger additionally
// waits for minNewRows new rows.
func Default(usableRows, desiredWindow, minNewRows int64, deferFirst bool) Record {
	expect := usableRows
	if deferFirst {
		expect += minNewRows
	}

	return Record{
		LastRows:   usableRows,
		ExpectRows: expect,
		LastWindow: desiredWindow,
	}
}
