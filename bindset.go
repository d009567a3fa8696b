// Copyright (c) 2024 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlbind

import (
	"fmt"

	"github.com/tailscale/sqlbind/bindh"
)

// bindSet is the fixed-length descriptor array of one side of a
// statement (its parameters or its result columns) together with the
// binder driving each descriptor.
//
// The array is allocated once and never reallocated, so the engine
// always sees the same descriptors at the same indexes.
type bindSet struct {
	bind  []bindh.Bind
	slots []binder // nil entries are unbound
}

func newBindSet(n int) *bindSet {
	return &bindSet{
		bind:  make([]bindh.Bind, n),
		slots: make([]binder, n),
	}
}

func (s *bindSet) len() int { return len(s.slots) }

// binds is the descriptor array handed to the engine.
func (s *bindSet) binds() []bindh.Bind { return s.bind }

// setVariable binds v to slot i, replacing any previous binding.
func (s *bindSet) setVariable(i int, v any) error {
	if i < 0 || i >= len(s.slots) {
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(s.slots))
	}
	b, err := newBinder(v)
	if err != nil {
		return err
	}
	s.slots[i] = b
	return nil
}

// setVariables binds vs to the leading slots. No slot is changed
// unless every value can be bound.
func (s *bindSet) setVariables(vs []any) error {
	if len(vs) > len(s.slots) {
		return fmt.Errorf("%w: %d values for %d slots", ErrOutOfRange, len(vs), len(s.slots))
	}
	bs := make([]binder, len(vs))
	for i, v := range vs {
		b, err := newBinder(v)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		bs[i] = b
	}
	copy(s.slots, bs)
	return nil
}

func (s *bindSet) preExecute() error {
	for i, b := range s.slots {
		if b == nil {
			return fmt.Errorf("%w: parameter %d", ErrUnbound, i)
		}
	}
	for i, b := range s.slots {
		b.preExecute(&s.bind[i])
	}
	return nil
}

func (s *bindSet) postExecute() {
	for i, b := range s.slots {
		b.postExecute(&s.bind[i])
	}
}

// preFetch prepares every descriptor to receive a row.
// Unbound columns are described as MYSQL_TYPE_NULL, which the engine
// skips.
func (s *bindSet) preFetch() {
	for i, b := range s.slots {
		if b == nil {
			s.bind[i] = bindh.Bind{Type: bindh.MYSQL_TYPE_NULL}
			continue
		}
		b.preFetch(&s.bind[i])
	}
}

// postFetch decodes a fetched row and reports, in ascending order, the
// indexes of the columns that must be fetched again into their
// resized buffers.
func (s *bindSet) postFetch() (refetch []int) {
	for i, b := range s.slots {
		if b == nil {
			continue
		}
		if b.postFetch(&s.bind[i]) {
			refetch = append(refetch, i)
		}
	}
	return refetch
}

func (s *bindSet) postRefetch(refetch []int) {
	for _, i := range refetch {
		s.slots[i].postRefetch(&s.bind[i])
	}
}
