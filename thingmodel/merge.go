package thingmodel

import "github.com/wotkit/tdkit/td"

// Extend merges a model that dest extends into dest and returns the result.
// Top-level members of dest win over those of source. Affordances present in
// both models are merged member by member, again with dest winning. Neither
// input is modified.
func Extend(source, dest Model) Model {
	out := source.Clone()
	for key, value := range dest {
		out[key] = cloneValue(value)
	}

	for _, kind := range td.AffordanceKinds {
		srcAffs, ok := source[kind].(map[string]any)
		if !ok {
			continue
		}
		destAffs, _ := dest[kind].(map[string]any)
		merged := make(map[string]any, len(srcAffs)+len(destAffs))
		for name, aff := range destAffs {
			merged[name] = cloneValue(aff)
		}
		for name, aff := range srcAffs {
			srcAff, srcObj := aff.(map[string]any)
			destAff, destObj := destAffs[name].(map[string]any)
			switch {
			case srcObj && destObj:
				merged[name] = overlay(srcAff, destAff)
			case !destObj:
				if _, inDest := destAffs[name]; !inDest {
					merged[name] = cloneValue(aff)
				}
			}
		}
		out[kind] = merged
	}
	return out
}

// overlay returns a copy of base with the members of top written over it.
func overlay(base, top map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(top))
	for key, value := range base {
		out[key] = cloneValue(value)
	}
	for key, value := range top {
		out[key] = cloneValue(value)
	}
	return out
}

// ImportAffordance overlays dest on the imported source affordance. Members
// of dest win, and a null member of dest removes the member altogether.
func ImportAffordance(source, dest map[string]any) map[string]any {
	out := overlay(source, dest)
	for key, value := range out {
		if value == nil {
			delete(out, key)
		}
	}
	return out
}
