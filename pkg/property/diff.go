package property

// ObjectDiff describes how one bag differs from another. Keys present
// only in the new bag are adds, keys present only in the old bag are
// deletes, keys present in both with unequal values are updates, and
// keys with equal values are sames. Null values count as absent, so a
// property set to null diffs the same as a property removed.
type ObjectDiff struct {
	// Adds maps added property names to their new values.
	Adds map[string]Value

	// Deletes maps removed property names to their old values.
	Deletes map[string]Value

	// Updates maps changed property names to their old/new value pair.
	Updates map[string]ValueDiff

	// Sames maps unchanged property names to their value.
	Sames map[string]Value
}

// ValueDiff is the old/new value pair for a changed property.
type ValueDiff struct {
	Old Value
	New Value
}

// Diff compares two bags. It returns nil when the bags are equal under
// null-as-absent semantics.
func Diff(olds, news Map) *ObjectDiff {
	diff := &ObjectDiff{
		Adds:    map[string]Value{},
		Deletes: map[string]Value{},
		Updates: map[string]ValueDiff{},
		Sames:   map[string]Value{},
	}

	for k, old := range olds {
		new, has := news[k]
		switch {
		case has && old.Equal(new):
			diff.Sames[k] = old
		case has && !new.IsNull() && !old.IsNull():
			diff.Updates[k] = ValueDiff{Old: old, New: new}
		case has && old.IsNull():
			diff.Adds[k] = new
		case !old.IsNull():
			// Removed outright, or replaced by null.
			diff.Deletes[k] = old
		}
	}
	for k, new := range news {
		if _, has := olds[k]; !has && !new.IsNull() {
			diff.Adds[k] = new
		}
	}

	if len(diff.Adds) == 0 && len(diff.Deletes) == 0 && len(diff.Updates) == 0 {
		return nil
	}
	return diff
}

// Changed reports whether the named property is an add, delete or
// update in this diff.
func (d *ObjectDiff) Changed(key string) bool {
	if d == nil {
		return false
	}
	if _, ok := d.Adds[key]; ok {
		return true
	}
	if _, ok := d.Deletes[key]; ok {
		return true
	}
	_, ok := d.Updates[key]
	return ok
}

// Keys returns the sorted names of all changed properties.
func (d *ObjectDiff) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make(Map, len(d.Adds)+len(d.Deletes)+len(d.Updates))
	for k := range d.Adds {
		keys[k] = Null()
	}
	for k := range d.Deletes {
		keys[k] = Null()
	}
	for k := range d.Updates {
		keys[k] = Null()
	}
	return keys.Keys()
}
