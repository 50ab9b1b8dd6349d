package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/companion-board/backend/internal/models"
)

// ErrInvalidSnapshot is returned for snapshot documents that cannot be decoded.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

type rawSnapshot struct {
	SchemaVersion        int                  `json:"schemaVersion"`
	Version              string               `json:"version"`
	Timestamp            int64                `json:"timestamp"`
	Boxes                json.RawMessage      `json:"boxes"`
	DefaultConnectionURL *string              `json:"defaultConnectionUrl"`
	Connections          *[]models.Connection `json:"connections"`
	CanvasSettings       json.RawMessage      `json:"canvasSettings"`
	BackgroundImage      *string              `json:"backgroundImage"`
	FontFamily           *string              `json:"fontFamily"`
	Locked               *bool                `json:"locked"`
}

// DecodeSnapshot decodes a JSON snapshot document (an exported file or a full
// stateChange payload), migrating boxes written by older schema versions. Absent
// optional fields stay nil. When requireBoxes is set a document without a boxes
// array fails with models.ErrMissingBoxes.
func DecodeSnapshot(data []byte, requireBoxes bool) (models.PartialSnapshot, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.PartialSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	p := models.PartialSnapshot{
		SchemaVersion:        models.CurrentSchemaVersion,
		Version:              raw.Version,
		Timestamp:            raw.Timestamp,
		DefaultConnectionURL: raw.DefaultConnectionURL,
		BackgroundImage:      raw.BackgroundImage,
		FontFamily:           raw.FontFamily,
		Locked:               raw.Locked,
	}

	if isAbsent(raw.Boxes) {
		if requireBoxes {
			return models.PartialSnapshot{}, models.ErrMissingBoxes
		}
	} else {
		var items []json.RawMessage
		if err := json.Unmarshal(raw.Boxes, &items); err != nil {
			return models.PartialSnapshot{}, fmt.Errorf("%w: boxes: %v", ErrInvalidSnapshot, err)
		}
		boxes := make([]models.Box, 0, len(items))
		for i, item := range items {
			box, err := MigrateBox(item, raw.SchemaVersion)
			if err != nil {
				return models.PartialSnapshot{}, fmt.Errorf("%w: box %d: %v", ErrInvalidSnapshot, i, err)
			}
			boxes = append(boxes, box)
		}
		p.Boxes = &boxes
	}

	if !isAbsent(raw.CanvasSettings) {
		c, err := MigrateCanvas(raw.CanvasSettings)
		if err != nil {
			return models.PartialSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		p.CanvasSettings = &c
	}
	if raw.Connections != nil {
		conns := models.CloneConnections(*raw.Connections)
		p.Connections = &conns
	}
	return p, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// DecodeChange decodes a tagged change message. Boxes and canvas settings go through
// the same migration as snapshot documents, so fields a peer leaves out take their
// defaults instead of zero values.
func DecodeChange(kind models.ChangeKind, payload json.RawMessage) (models.Change, error) {
	switch kind {
	case models.BoxesChanged:
		var items []json.RawMessage
		if err := json.Unmarshal(payload, &items); err != nil {
			return models.Change{}, fmt.Errorf("decoding %s payload: %w", kind, err)
		}
		boxes := make([]models.Box, 0, len(items))
		for i, item := range items {
			box, err := MigrateBox(item, models.CurrentSchemaVersion)
			if err != nil {
				return models.Change{}, fmt.Errorf("decoding %s payload: box %d: %w", kind, i, err)
			}
			boxes = append(boxes, box)
		}
		return models.Change{Kind: kind, Boxes: boxes}, nil
	case models.CanvasChanged:
		if isAbsent(payload) {
			return models.Change{}, fmt.Errorf("decoding %s payload: empty", kind)
		}
		c, err := MigrateCanvas(payload)
		if err != nil {
			return models.Change{}, fmt.Errorf("decoding %s payload: %w", kind, err)
		}
		return models.Change{Kind: kind, Canvas: c}, nil
	}
	return models.DecodeChange(kind, payload)
}
