package models

import "maps"

// ResolvedValue is the latest fetch result of one template field.
type ResolvedValue struct {
	Plain string `json:"plain"`
	HTML  string `json:"html"`
}

// ResolvedMap holds resolved values keyed by template field name.
type ResolvedMap map[string]ResolvedValue

// Equal reports deep equality of two resolved maps.
func (m ResolvedMap) Equal(other ResolvedMap) bool {
	return maps.Equal(m, other)
}

// Clone copies the map.
func (m ResolvedMap) Clone() ResolvedMap {
	if m == nil {
		return ResolvedMap{}
	}
	return maps.Clone(m)
}

// Plain returns the plain value of a field, or "" when absent.
func (m ResolvedMap) Plain(field string) string {
	return m[field].Plain
}

// CanvasSubject is the render subject of canvas settings; boxes use their id.
const CanvasSubject = "canvas"
