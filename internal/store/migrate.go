package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/companion-board/backend/internal/models"
)

// migration upgrades a decoded box document from schema version `from` to from+1.
// Steps only add or move fields; they never drop user data.
type migration struct {
	from  int
	apply func(box map[string]any)
}

var migrations = []migration{
	{from: 1, apply: migrateV1ToV2},
	{from: 2, apply: migrateV2ToV3},
}

var regionNames = []string{"background", "border", "header", "left", "right"}

// v1 boxes were flat: x/y/width/height at the top level and per-region
// "<region>Text"/"<region>Color" fields. v2 nests them and adds visibility,
// font size and alignment per region.
func migrateV1ToV2(box map[string]any) {
	frame, _ := box["frame"].(map[string]any)
	if frame == nil {
		frame = map[string]any{}
	}
	for _, k := range []string{"x", "y", "width", "height"} {
		if v, ok := box[k]; ok {
			setDefault(frame, k, v)
			delete(box, k)
		}
	}
	box["frame"] = frame

	for _, name := range regionNames {
		region, _ := box[name].(map[string]any)
		if region == nil {
			region = map[string]any{}
		}
		for _, field := range []string{"Text", "Color"} {
			flat := name + field
			if v, ok := box[flat]; ok {
				setDefault(region, strings.ToLower(field), v)
				delete(box, flat)
			}
		}
		setDefault(region, "visible", true)
		setDefault(region, "fontSize", defaultFontSize(name))
		setDefault(region, "align", models.DefaultAlign)
		box[name] = region
	}
}

// v3 adds the left/right split, opacity, overlay size and the rule lists.
func migrateV2ToV3(box map[string]any) {
	setDefault(box, "leftRightRatio", models.DefaultRatio)
	setDefault(box, "opacity", models.DefaultOpacity)
	setDefault(box, "overlaySize", models.DefaultOverlaySize)
	setDefault(box, "opacityRules", []any{})
	setDefault(box, "overlaySizeRules", []any{})
	for _, name := range regionNames {
		if region, ok := box[name].(map[string]any); ok {
			setDefault(region, "colorRules", []any{})
		}
	}
}

func setDefault(m map[string]any, key string, v any) {
	if cur, ok := m[key]; !ok || cur == nil {
		m[key] = v
	}
}

func defaultFontSize(region string) int {
	switch region {
	case "header":
		return models.DefaultHeaderSize
	case "left", "right":
		return models.DefaultFontSize
	}
	return 0
}

// MigrateBox upgrades one persisted box document written at schema version `version`
// to the current schema. Attributes still missing afterwards take the defaults of
// models.NewBox, and numeric ranges are clamped.
func MigrateBox(raw json.RawMessage, version int) (models.Box, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.Box{}, fmt.Errorf("decoding box: %w", err)
	}
	if doc == nil {
		return models.Box{}, fmt.Errorf("decoding box: null document")
	}
	if version < 1 {
		version = 1
	}
	for _, m := range migrations {
		if version <= m.from {
			m.apply(doc)
		}
	}

	upgraded, err := json.Marshal(doc)
	if err != nil {
		return models.Box{}, fmt.Errorf("encoding migrated box: %w", err)
	}
	// Unmarshalling onto a default box keeps defaults for every absent field.
	box := models.NewBox("")
	if err := json.Unmarshal(upgraded, &box); err != nil {
		return models.Box{}, fmt.Errorf("decoding migrated box: %w", err)
	}
	fillRuleSlices(&box)
	box.Normalize()
	return box, nil
}

// MigrateCanvas decodes persisted canvas settings onto the defaults.
func MigrateCanvas(raw json.RawMessage) (models.CanvasSettings, error) {
	c := models.DefaultCanvasSettings()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c); err != nil {
			return models.CanvasSettings{}, fmt.Errorf("decoding canvas settings: %w", err)
		}
	}
	if c.BackgroundColorRules == nil {
		c.BackgroundColorRules = []models.VariableRule{}
	}
	c.Normalize()
	return c, nil
}

func fillRuleSlices(b *models.Box) {
	if b.OpacityRules == nil {
		b.OpacityRules = []models.VariableRule{}
	}
	if b.OverlaySizeRules == nil {
		b.OverlaySizeRules = []models.VariableRule{}
	}
	for _, nr := range b.Regions() {
		if nr.Region.ColorRules == nil {
			nr.Region.ColorRules = []models.VariableRule{}
		}
	}
}
