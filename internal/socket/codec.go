// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package socket

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Message kinds consumed or produced by the client.
const (
	KindForceKeepAlive  = "ForceKeepAlive"
	KindKeepAlive       = "KeepAlive"
	KindRefreshProgress = "RefreshProgress"
	KindLibraryChanged  = "LibraryChanged"
	KindUserDataChanged = "UserDataChanged"
)

// Envelope is one decoded frame. It is not modified after Decode except for
// ID, which the dispatch bus stamps once at publish time.
type Envelope struct {
	// ID identifies this envelope on the bus. Two frames with equal content
	// get different IDs.
	ID string

	// Kind is the MessageType of the frame.
	Kind string

	// Data is the raw Data value, nil when the frame had none or it was null.
	Data json.RawMessage

	// Payload is the typed view of Data for known kinds. It is nil when Data
	// is missing or not an object.
	Payload Payload
}

// Payload is implemented by ForceKeepAlive, RefreshProgress, LibraryChanged,
// UserDataChanged and Unknown.
type Payload interface {
	payload()
}

// ForceKeepAlive asks the client to answer with a KeepAlive frame.
type ForceKeepAlive struct{}

// RefreshProgress reports progress of a server-side library refresh.
type RefreshProgress struct {
	ItemID string

	// Progress is only meaningful when HasProgress is set. The server sends
	// it as a number or a numeric string.
	Progress    float64
	HasProgress bool
}

// LibraryChanged lists items the server added, updated or removed.
type LibraryChanged struct {
	ItemsAdded   []string
	ItemsUpdated []string
	ItemsRemoved []string
}

// UserDataChanged lists per-item user data changes for one user.
type UserDataChanged struct {
	UserID  string
	Entries []UserDataEntry
}

// UserDataEntry is one element of UserDataList. Only ItemID is required;
// the optional fields are nil when absent or of the wrong type.
type UserDataEntry struct {
	ItemID                string
	Played                *bool
	IsFavorite            *bool
	PlaybackPositionTicks *int64
}

// Unknown is the payload of kinds the client does not interpret.
type Unknown struct{}

func (ForceKeepAlive) payload()  {}
func (RefreshProgress) payload() {}
func (LibraryChanged) payload()  {}
func (UserDataChanged) payload() {}
func (Unknown) payload()         {}

type object = map[string]json.RawMessage

// Decode parses one raw frame. It returns nil for empty or whitespace frames,
// invalid JSON, JSON that is not an object, and objects without a string
// MessageType. Decode never panics on malformed input.
func Decode(raw []byte) *Envelope {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}

	var fields object
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}

	kind, ok := stringField(fields, "MessageType")
	if !ok {
		return nil
	}

	env := &Envelope{Kind: kind}
	if data, ok := fields["Data"]; ok && !isNull(data) {
		env.Data = data
	}
	env.Payload = decodePayload(kind, env.Data)
	return env
}

func decodePayload(kind string, data json.RawMessage) Payload {
	switch kind {
	case KindForceKeepAlive:
		return ForceKeepAlive{}
	case KindRefreshProgress, KindLibraryChanged, KindUserDataChanged:
	default:
		return Unknown{}
	}

	var fields object
	if len(data) == 0 || json.Unmarshal(data, &fields) != nil {
		return nil
	}

	switch kind {
	case KindRefreshProgress:
		p := RefreshProgress{}
		p.ItemID, _ = stringField(fields, "ItemId")
		p.Progress, p.HasProgress = numberLike(fields["Progress"])
		return p
	case KindLibraryChanged:
		return LibraryChanged{
			ItemsAdded:   stringList(fields["ItemsAdded"]),
			ItemsUpdated: stringList(fields["ItemsUpdated"]),
			ItemsRemoved: stringList(fields["ItemsRemoved"]),
		}
	default:
		p := UserDataChanged{}
		p.UserID, _ = stringField(fields, "UserId")
		p.Entries = userDataEntries(fields["UserDataList"])
		return p
	}
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func stringField(fields object, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// numberLike accepts a JSON number or a string holding one. NaN and the
// infinities are rejected.
func numberLike(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || isNull(raw) {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// stringList keeps the string elements of a JSON array and skips the rest.
func stringList(raw json.RawMessage) []string {
	var elems []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &elems) != nil {
		return nil
	}
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		var s string
		if !isNull(e) && json.Unmarshal(e, &s) == nil {
			out = append(out, s)
		}
	}
	return out
}

func userDataEntries(raw json.RawMessage) []UserDataEntry {
	var elems []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &elems) != nil {
		return nil
	}
	out := make([]UserDataEntry, 0, len(elems))
	for _, e := range elems {
		var fields object
		if json.Unmarshal(e, &fields) != nil {
			continue
		}
		id, ok := stringField(fields, "ItemId")
		if !ok {
			continue
		}
		entry := UserDataEntry{ItemID: id}
		entry.Played = optionalBool(fields["Played"])
		entry.IsFavorite = optionalBool(fields["IsFavorite"])
		var ticks int64
		if v, ok := fields["PlaybackPositionTicks"]; ok && !isNull(v) && json.Unmarshal(v, &ticks) == nil {
			entry.PlaybackPositionTicks = &ticks
		}
		out = append(out, entry)
	}
	return out
}

func optionalBool(raw json.RawMessage) *bool {
	var b bool
	if len(raw) == 0 || isNull(raw) || json.Unmarshal(raw, &b) != nil {
		return nil
	}
	return &b
}

// outbound is the wire shape of a frame sent by the client.
type outbound struct {
	MessageType string      `json:"MessageType"`
	Data        interface{} `json:"Data,omitempty"`
}

// Encode serializes an outbound frame. The Data key is left out when data is
// nil, including typed nil maps, slices and pointers.
func Encode(kind string, data interface{}) ([]byte, error) {
	if isNilValue(data) {
		data = nil
	}
	b, err := json.Marshal(outbound{MessageType: kind, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return b, nil
}

func isNilValue(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Ptr, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
