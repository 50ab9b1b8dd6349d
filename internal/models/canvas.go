package models

// Canvas defaults.
const (
	DefaultCanvasColor       = "#000000"
	DefaultRefreshIntervalMs = 1000
	DefaultImageOpacity      = 100.0
	DefaultFontFamily        = "Arial"
)

// CanvasSettings holds the board-wide background and refresh configuration.
type CanvasSettings struct {
	BackgroundColor        string         `json:"backgroundColor" yaml:"background_color"`
	BackgroundText         string         `json:"backgroundText" yaml:"background_text"`
	BackgroundColorRules   []VariableRule `json:"backgroundColorRules" yaml:"background_color_rules"`
	BackgroundImageOpacity float64        `json:"backgroundImageOpacity" yaml:"background_image_opacity"`
	RefreshIntervalMs      int            `json:"refreshIntervalMs" yaml:"refresh_interval_ms"`
}

// DefaultCanvasSettings returns the settings used by a fresh installation.
func DefaultCanvasSettings() CanvasSettings {
	return CanvasSettings{
		BackgroundColor:        DefaultCanvasColor,
		BackgroundColorRules:   []VariableRule{},
		BackgroundImageOpacity: DefaultImageOpacity,
		RefreshIntervalMs:      DefaultRefreshIntervalMs,
	}
}

// Normalize clamps the refresh interval and opacity into their valid ranges.
func (c *CanvasSettings) Normalize() {
	if c.RefreshIntervalMs < MinRefreshIntervalMs {
		c.RefreshIntervalMs = MinRefreshIntervalMs
	}
	c.BackgroundImageOpacity = clamp(c.BackgroundImageOpacity, 0, 100)
}

// Clone returns a deep copy of the settings.
func (c CanvasSettings) Clone() CanvasSettings {
	c.BackgroundColorRules = cloneRules(c.BackgroundColorRules)
	return c
}

// Templates returns the canvas template strings keyed like Box.Templates.
func (c CanvasSettings) Templates() map[string]string {
	out := map[string]string{TextField("background"): c.BackgroundText}
	addRuleTemplates(out, c.BackgroundColorRules)
	return out
}
