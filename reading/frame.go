package reading

import (
	"encoding/json"
	"sort"

	"github.com/TaskforceCobra/instrument-contoller/errors"
)

// Entry is one device's slot in a Frame: either the latest Reading the
// device produced since the previous tick, or a stale marker when it
// produced none.
type Entry struct {
	Stale   bool
	Reading Reading
}

// NewEntry wraps a fresh reading as a frame entry.
func NewEntry(r Reading) Entry {
	return Entry{Reading: r}
}

// StaleEntry returns the marker for a device that produced nothing this
// tick.
func StaleEntry() Entry {
	return Entry{Stale: true}
}

// MarshalJSON encodes a fresh entry as its reading object and a stale entry
// as {"stale":true}, keeping frame payloads compact on the wire.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Stale {
		return []byte(`{"stale":true}`), nil
	}
	return json.Marshal(e.Reading)
}

// UnmarshalJSON is the inverse of MarshalJSON. A reading object never
// carries a "stale" key, so the marker probe is unambiguous.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var marker struct {
		Stale bool `json:"stale"`
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		return errors.WrapInvalid(err, "Entry", "UnmarshalJSON", "entry decode")
	}
	if marker.Stale {
		*e = Entry{Stale: true}
		return nil
	}
	var r Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return errors.WrapInvalid(err, "Entry", "UnmarshalJSON", "reading decode")
	}
	*e = Entry{Reading: r}
	return nil
}

// Frame is one tick's view of every registered device. Index increases by
// exactly one per tick within a session; Deadline is the tick boundary as
// Unix milliseconds.
//
// The entry map is private and copied on construction, so a Frame handed to
// consumers cannot change under them.
type Frame struct {
	index    uint64
	deadline int64
	entries  map[string]Entry
}

// NewFrame builds a closed frame from the per-device entries collected
// during one tick. The map is copied; callers may reuse theirs.
func NewFrame(index uint64, deadline int64, entries map[string]Entry) Frame {
	copied := make(map[string]Entry, len(entries))
	for id, e := range entries {
		copied[id] = e
	}
	return Frame{index: index, deadline: deadline, entries: copied}
}

// Index returns the frame's position in the session, starting at 1.
func (f Frame) Index() uint64 {
	return f.index
}

// Deadline returns the tick boundary as Unix milliseconds.
func (f Frame) Deadline() int64 {
	return f.deadline
}

// Len returns the number of devices covered by the frame.
func (f Frame) Len() int {
	return len(f.entries)
}

// Entry returns one device's slot and whether the device is covered by the
// frame at all.
func (f Frame) Entry(deviceID string) (Entry, bool) {
	e, ok := f.entries[deviceID]
	return e, ok
}

// Devices lists the covered device IDs in sorted order.
func (f Frame) Devices() []string {
	ids := make([]string, 0, len(f.entries))
	for id := range f.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries returns a copy of the entry map, for consumers that want to range
// freely or diff frames in tests.
func (f Frame) Entries() map[string]Entry {
	copied := make(map[string]Entry, len(f.entries))
	for id, e := range f.entries {
		copied[id] = e
	}
	return copied
}

// Fresh returns the non-stale readings in the frame, in device-ID order.
func (f Frame) Fresh() []Reading {
	out := make([]Reading, 0, len(f.entries))
	for _, id := range f.Devices() {
		if e := f.entries[id]; !e.Stale {
			out = append(out, e.Reading)
		}
	}
	return out
}

// frameWire is the JSON shape of a Frame; the struct itself keeps its fields
// private.
type frameWire struct {
	Index    uint64           `json:"index"`
	Deadline int64            `json:"deadline"`
	Entries  map[string]Entry `json:"entries"`
}

// MarshalJSON implements json.Marshaler.
func (f Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal(frameWire{
		Index:    f.index,
		Deadline: f.deadline,
		Entries:  f.entries,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var wire frameWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(err, "Frame", "UnmarshalJSON", "frame decode")
	}
	f.index = wire.Index
	f.deadline = wire.Deadline
	f.entries = wire.Entries
	if f.entries == nil {
		f.entries = map[string]Entry{}
	}
	return nil
}
