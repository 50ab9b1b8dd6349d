package models

import (
	"encoding/json"
	"fmt"
)

// ChangeKind tags a partial state update.
type ChangeKind string

const (
	BoxesChanged             ChangeKind = "boxesChanged"
	CanvasChanged            ChangeKind = "canvasChanged"
	ConnectionsChanged       ChangeKind = "connectionsChanged"
	DefaultConnectionChanged ChangeKind = "defaultConnectionChanged"
	BackgroundImageChanged   ChangeKind = "backgroundImageChanged"
	FontChanged              ChangeKind = "fontChanged"
	LockChanged              ChangeKind = "lockChanged"
)

// ChangeKinds lists every kind, in application order.
var ChangeKinds = []ChangeKind{
	BoxesChanged,
	CanvasChanged,
	ConnectionsChanged,
	DefaultConnectionChanged,
	BackgroundImageChanged,
	FontChanged,
	LockChanged,
}

// Change is one tagged partial update. Only the field matching Kind is meaningful:
// Boxes, Canvas, Connections, Locked, or Text for the string-valued kinds.
type Change struct {
	Kind        ChangeKind
	Boxes       []Box
	Canvas      CanvasSettings
	Connections []Connection
	Text        string
	Locked      bool
}

// Payload returns the wire payload of the change.
func (c Change) Payload() any {
	switch c.Kind {
	case BoxesChanged:
		return c.Boxes
	case CanvasChanged:
		return c.Canvas
	case ConnectionsChanged:
		return c.Connections
	case LockChanged:
		return c.Locked
	default:
		return c.Text
	}
}

// DecodeChange decodes the payload of a tagged change message. Unknown kinds are errors.
func DecodeChange(kind ChangeKind, payload json.RawMessage) (Change, error) {
	c := Change{Kind: kind}
	var err error
	switch kind {
	case BoxesChanged:
		err = json.Unmarshal(payload, &c.Boxes)
		if err == nil && c.Boxes == nil {
			c.Boxes = []Box{}
		}
	case CanvasChanged:
		err = json.Unmarshal(payload, &c.Canvas)
	case ConnectionsChanged:
		err = json.Unmarshal(payload, &c.Connections)
		if err == nil && c.Connections == nil {
			c.Connections = []Connection{}
		}
	case DefaultConnectionChanged, BackgroundImageChanged, FontChanged:
		err = json.Unmarshal(payload, &c.Text)
	case LockChanged:
		err = json.Unmarshal(payload, &c.Locked)
	default:
		return Change{}, fmt.Errorf("unknown change kind %q", kind)
	}
	if err != nil {
		return Change{}, fmt.Errorf("decoding %s payload: %w", kind, err)
	}
	return c, nil
}

// ApplyChanges returns a copy of s with the changes applied field by field.
// Fields not named by any change are left untouched.
func ApplyChanges(s Snapshot, changes []Change) Snapshot {
	out := s.Clone()
	for _, c := range changes {
		switch c.Kind {
		case BoxesChanged:
			out.Boxes = make([]Box, len(c.Boxes))
			for i, b := range c.Boxes {
				out.Boxes[i] = b.Clone()
			}
		case CanvasChanged:
			out.CanvasSettings = c.Canvas.Clone()
		case ConnectionsChanged:
			out.Connections = CloneConnections(c.Connections)
		case DefaultConnectionChanged:
			out.DefaultConnectionURL = c.Text
		case BackgroundImageChanged:
			out.BackgroundImage = c.Text
		case FontChanged:
			out.FontFamily = c.Text
		case LockChanged:
			out.Locked = c.Locked
		}
	}
	return out
}
