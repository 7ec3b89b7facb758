// Package signature derives the request tokens each platform demands before
// it accepts a client: the douyin a_bogus parameter, the huya stream
// anti-code, the douyin cookie set and bilibili's WBI query signature.
//
// Every function is deterministic given its clock and random source, which
// are injectable for tests.
package signature

import "github.com/pkg/errors"

var (
	// ErrMissingField reports a required input field that was absent or empty.
	ErrMissingField = errors.New("signature: missing field")

	// ErrInvalidInput reports an input that was present but undecodable.
	ErrInvalidInput = errors.New("signature: invalid input")
)
