package guild

import "slices"

// Selector is a set of identifiers with an explicit "everything allowed"
// state. The zero Selector is unrestricted. Dashboards persist an
// unrestricted selector as an empty row set, so an empty stored set always
// loads as unrestricted; restricting to nothing is not representable.
type Selector struct {
	ids map[string]bool
}

// Restrict returns a selector restricted to the given identifiers. With no
// identifiers, the result is unrestricted.
func Restrict(ids ...string) Selector {
	if len(ids) == 0 {
		return Selector{}
	}
	s := Selector{ids: make(map[string]bool, len(ids))}
	for _, id := range ids {
		s.ids[id] = true
	}
	return s
}

// Allows reports whether id is selected. An unrestricted selector allows
// every identifier.
func (s Selector) Allows(id string) bool {
	return s.ids == nil || s.ids[id]
}

// Restricted reports whether the selector names an explicit set.
func (s Selector) Restricted() bool {
	return s.ids != nil
}

// Remove returns a selector without the given identifier, leaving the
// receiver unchanged so concurrent readers of the old selector stay safe.
// Removing the last identifier leaves the selector unrestricted, matching the
// persisted representation.
func (s Selector) Remove(id string) Selector {
	if s.ids == nil || !s.ids[id] {
		return s
	}
	if len(s.ids) == 1 {
		return Selector{}
	}
	r := Selector{ids: make(map[string]bool, len(s.ids)-1)}
	for k := range s.ids {
		if k != id {
			r.ids[k] = true
		}
	}
	return r
}

// IDs returns the selected identifiers in sorted order, or nil if the
// selector is unrestricted.
func (s Selector) IDs() []string {
	if s.ids == nil {
		return nil
	}
	r := make([]string, 0, len(s.ids))
	for id := range s.ids {
		r = append(r, id)
	}
	slices.Sort(r)
	return r
}
