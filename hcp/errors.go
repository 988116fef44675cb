package hcp

import "fmt"

// errTimeout and errConnReset wrap the reason reported to fail, mirroring
// how hsp publishes the same strings as events without allocating a
// distinct error type per reason.
func errTimeout(kind string) error {
	return fmt.Errorf("hcp: %s timeout", kind)
}

func errConnReset(reason string) error {
	return fmt.Errorf("hcp: connection error: %s", reason)
}
