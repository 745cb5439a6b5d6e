// Package continuity chains a sequence of named steps that run in order,
// short-circuiting at the first failure. It is used by the container
// writer's finalize sequence and the chunk writer's close sequence, where
// every step (sync, publish, unlock, close) must run only if every
// prior step succeeded, and the first error must win without the later
// steps masking it.
package continuity

import "strings"

// Chain accumulates errors from a sequence of Then calls. Once a step
// fails, later steps are skipped.
type Chain struct {
	errs errList
}

type errList []error

func (e errList) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "multiple errors: " + strings.Join(msgs, ", ")
}

// New starts an empty chain.
func New() *Chain {
	return new(Chain)
}

// Then runs f, named step, if no prior step has failed.
func (c *Chain) Then(step string, f func() error) *Chain {
	if len(c.errs) > 0 {
		return c
	}
	if err := f(); err != nil {
		c.errs = append(c.errs, err)
	}
	return c
}

// Err returns the first error encountered, or nil if every step succeeded.
func (c *Chain) Err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}
