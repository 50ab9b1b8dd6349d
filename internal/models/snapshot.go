package models

import "errors"

// CurrentSchemaVersion is the schema version written by this build.
const CurrentSchemaVersion = 3

// SnapshotFormatVersion is the human-readable file format version of exports.
const SnapshotFormatVersion = "1.0"

// ErrMissingBoxes is returned when an imported document has no boxes array.
var ErrMissingBoxes = errors.New("snapshot is missing the boxes array")

// Snapshot is the complete exportable application state.
type Snapshot struct {
	SchemaVersion        int            `json:"schemaVersion" yaml:"schema_version"`
	Version              string         `json:"version" yaml:"version"`
	Timestamp            int64          `json:"timestamp" yaml:"timestamp"`
	Boxes                []Box          `json:"boxes" yaml:"boxes"`
	DefaultConnectionURL string         `json:"defaultConnectionUrl" yaml:"default_connection_url"`
	Connections          []Connection   `json:"connections" yaml:"connections"`
	CanvasSettings       CanvasSettings `json:"canvasSettings" yaml:"canvas_settings"`
	BackgroundImage      string         `json:"backgroundImage,omitempty" yaml:"background_image,omitempty"`
	FontFamily           string         `json:"fontFamily" yaml:"font_family"`
	Locked               bool           `json:"locked" yaml:"locked"`
}

// EmptySnapshot returns the state of a fresh installation.
func EmptySnapshot() Snapshot {
	return Snapshot{
		SchemaVersion:  CurrentSchemaVersion,
		Version:        SnapshotFormatVersion,
		Boxes:          []Box{},
		Connections:    []Connection{},
		CanvasSettings: DefaultCanvasSettings(),
		FontFamily:     DefaultFontFamily,
	}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Boxes = make([]Box, len(s.Boxes))
	for i, b := range s.Boxes {
		out.Boxes[i] = b.Clone()
	}
	out.Connections = CloneConnections(s.Connections)
	out.CanvasSettings = s.CanvasSettings.Clone()
	return out
}

// FindBox returns the index of the box with the given id, or -1.
func (s Snapshot) FindBox(id string) int {
	for i := range s.Boxes {
		if s.Boxes[i].ID == id {
			return i
		}
	}
	return -1
}

// PartialSnapshot is a snapshot in which every field may be absent. It is the decoded
// form of imported files and of inbound stateChange messages.
type PartialSnapshot struct {
	SchemaVersion        int             `json:"schemaVersion,omitempty"`
	Version              string          `json:"version,omitempty"`
	Timestamp            int64           `json:"timestamp,omitempty"`
	Boxes                *[]Box          `json:"boxes,omitempty"`
	DefaultConnectionURL *string         `json:"defaultConnectionUrl,omitempty"`
	Connections          *[]Connection   `json:"connections,omitempty"`
	CanvasSettings       *CanvasSettings `json:"canvasSettings,omitempty"`
	BackgroundImage      *string         `json:"backgroundImage,omitempty"`
	FontFamily           *string         `json:"fontFamily,omitempty"`
	Locked               *bool           `json:"locked,omitempty"`
}

// Full wraps every field of s into a PartialSnapshot.
func Full(s Snapshot) PartialSnapshot {
	s = s.Clone()
	return PartialSnapshot{
		SchemaVersion:        s.SchemaVersion,
		Version:              s.Version,
		Timestamp:            s.Timestamp,
		Boxes:                &s.Boxes,
		DefaultConnectionURL: &s.DefaultConnectionURL,
		Connections:          &s.Connections,
		CanvasSettings:       &s.CanvasSettings,
		BackgroundImage:      &s.BackgroundImage,
		FontFamily:           &s.FontFamily,
		Locked:               &s.Locked,
	}
}

// Changes converts the fields present in p into tagged change variants.
func (p PartialSnapshot) Changes() []Change {
	var out []Change
	if p.Boxes != nil {
		out = append(out, Change{Kind: BoxesChanged, Boxes: *p.Boxes})
	}
	if p.CanvasSettings != nil {
		out = append(out, Change{Kind: CanvasChanged, Canvas: *p.CanvasSettings})
	}
	if p.Connections != nil {
		out = append(out, Change{Kind: ConnectionsChanged, Connections: *p.Connections})
	}
	if p.DefaultConnectionURL != nil {
		out = append(out, Change{Kind: DefaultConnectionChanged, Text: *p.DefaultConnectionURL})
	}
	if p.BackgroundImage != nil {
		out = append(out, Change{Kind: BackgroundImageChanged, Text: *p.BackgroundImage})
	}
	if p.FontFamily != nil {
		out = append(out, Change{Kind: FontChanged, Text: *p.FontFamily})
	}
	if p.Locked != nil {
		out = append(out, Change{Kind: LockChanged, Locked: *p.Locked})
	}
	return out
}
