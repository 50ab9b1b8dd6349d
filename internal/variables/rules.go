package variables

import (
	"strconv"
	"strings"

	"github.com/companion-board/backend/internal/models"
)

// MatchRule returns the first rule whose live value equals its expected value.
// Live values are read from the resolved map under models.RuleField(rule.ID).
func MatchRule(rules []models.VariableRule, values models.ResolvedMap) (models.VariableRule, bool) {
	for _, r := range rules {
		if r.Variable == "" {
			continue
		}
		live, ok := values[models.RuleField(r.ID)]
		if !ok {
			continue
		}
		if strings.TrimSpace(live.Plain) == strings.TrimSpace(r.ExpectedValue) {
			return r, true
		}
	}
	return models.VariableRule{}, false
}

// RegionColor picks the color of a region: first matching rule, then the region's
// text override when it resolves to a non-empty value, then the static color, then
// hardDefault. Exactly one source is used.
func RegionColor(region models.Region, regionName string, values models.ResolvedMap, hardDefault string) string {
	if r, ok := MatchRule(region.ColorRules, values); ok && r.Value != "" {
		return r.Value
	}
	if region.Text != "" {
		if v := strings.TrimSpace(values.Plain(models.TextField(regionName))); v != "" {
			return v
		}
	}
	if region.Color != "" {
		return region.Color
	}
	return hardDefault
}

// RegionText returns the plain and HTML text of a region. The resolved value is used
// when the fetcher has one; otherwise the static text is rendered without tokens.
func RegionText(region models.Region, regionName string, values models.ResolvedMap) (string, string) {
	if v, ok := values[models.TextField(regionName)]; ok {
		return v.Plain, v.HTML
	}
	plain := StripTokens(region.Text)
	return plain, RenderMarkdown(plain)
}

// RuleNumber applies numeric rules such as opacity or overlay size, falling back to
// static when no rule matches or the matching value is not a number.
func RuleNumber(rules []models.VariableRule, values models.ResolvedMap, static float64) float64 {
	r, ok := MatchRule(rules, values)
	if !ok {
		return static
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(r.Value), "%"), 64)
	if err != nil {
		return static
	}
	return n
}
