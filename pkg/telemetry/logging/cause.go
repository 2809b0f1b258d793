package logging

import "errors"

// maxCauseDepth bounds how far Cause walks a wrapped error chain.
const maxCauseDepth = 16

// dataError matches JSON-RPC errors that carry extra data, such as revert
// reasons returned by Ethereum nodes.
type dataError interface {
	ErrorData() interface{}
}

// Cause returns the most specific human-readable message in err's chain.
//
// It follows errors.Unwrap and, for joined errors, the first branch, up to a
// fixed depth. Wrapper layers that add nothing are skipped; the innermost
// non-empty message wins. String data attached by an RPC error is appended.
func Cause(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	data := errorData(err)

	cur := err
	for depth := 0; depth < maxCauseDepth; depth++ {
		next := unwrapOnce(cur)
		if next == nil {
			break
		}
		if m := next.Error(); m != "" {
			msg = m
		}
		if d := errorData(next); d != "" {
			data = d
		}
		cur = next
	}

	if data != "" {
		return msg + ": " + data
	}
	return msg
}

func unwrapOnce(err error) error {
	if next := errors.Unwrap(err); next != nil {
		return next
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if e != nil {
				return e
			}
		}
	}
	return nil
}

func errorData(err error) string {
	de, ok := err.(dataError)
	if !ok {
		return ""
	}
	s, _ := de.ErrorData().(string)
	return s
}
