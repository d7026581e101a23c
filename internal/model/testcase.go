// Package model defines the data structures for campaign coverage collection.
package model

// Path represents a file system path.
type Path string

// TestCase is one corpus entry produced by a fuzzer instance. Immutable once
// enumerated.
type TestCase struct {
	// ID uniquely identifies the test case within the campaign. It is the
	// fuzzer instance name joined with the queue file name, so two instances
	// reporting the same file name stay distinct.
	ID string

	// Instance is the fuzzer instance directory the case came from
	// ("default" for single-instance layouts).
	Instance string

	Path  Path
	Size  int64
	Order int
}
