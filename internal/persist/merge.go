// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package persist keeps store state in a storage.Storage across store
// re-creation, reconciling old snapshots against the current default shape.
package persist

// Merge reconciles a stored JSON tree against the default tree for the same
// state. Both arguments are the generic shapes produced by decoding JSON into
// an any: map[string]any, []any, scalars and nil.
//
// Keys missing from stored (or stored as null) take the default value. Keys
// the default does not have are dropped. When the default value is an object
// the two are merged recursively; otherwise the stored value wins, arrays
// included. A stored value that is not an object where the default is one is
// discarded in favour of the default.
func Merge(stored, defaults any) any {
	if stored == nil {
		return defaults
	}

	defMap, ok := defaults.(map[string]any)
	if !ok {
		return stored
	}
	storedMap, ok := stored.(map[string]any)
	if !ok {
		return defaults
	}

	out := make(map[string]any, len(defMap))
	for key, defValue := range defMap {
		sv, present := storedMap[key]
		if !present || sv == nil {
			out[key] = defValue
			continue
		}
		out[key] = Merge(sv, defValue)
	}
	return out
}
