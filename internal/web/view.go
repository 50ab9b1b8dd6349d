package web

import (
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/variables"
)

// Colors used when neither a rule, a text override nor a static color applies.
const (
	fallbackCanvasColor = "#000000"
	fallbackTextColor   = "#ffffff"
)

// BoardView is the render-ready form of the board with resolved values applied.
type BoardView struct {
	Control         bool
	Locked          bool
	FontFamily      string
	BackgroundColor template.CSS
	BackgroundImage template.URL
	ImageOpacity    float64
	Boxes           []BoxView
}

// BoxView is one box ready for the page template.
type BoxView struct {
	ID          string
	Style       template.CSS
	Header      RegionView
	Left        RegionView
	Right       RegionView
	LeftPercent float64
}

// RegionView is a text region of a box.
type RegionView struct {
	Visible  bool
	Plain    string
	HTML     template.HTML
	Color    template.CSS
	FontSize int
	Align    string
}

// BuildView applies resolved values to the board. resolved is keyed by subject:
// box ids and models.CanvasSubject. Subjects without values render their static
// text with the tokens stripped.
func BuildView(s models.Snapshot, resolved map[string]models.ResolvedMap, control bool) BoardView {
	canvas := resolved[models.CanvasSubject]
	bg := models.Region{
		Color:      s.CanvasSettings.BackgroundColor,
		Text:       s.CanvasSettings.BackgroundText,
		ColorRules: s.CanvasSettings.BackgroundColorRules,
	}
	view := BoardView{
		Control:         control,
		Locked:          s.Locked,
		FontFamily:      s.FontFamily,
		BackgroundColor: cssColor(variables.RegionColor(bg, "background", canvas, fallbackCanvasColor)),
		ImageOpacity:    s.CanvasSettings.BackgroundImageOpacity / 100,
		Boxes:           make([]BoxView, 0, len(s.Boxes)),
	}
	if strings.HasPrefix(s.BackgroundImage, "data:image/") {
		// Data URIs are filtered to images, so they are safe as a src attribute.
		view.BackgroundImage = template.URL(s.BackgroundImage)
	}

	boxes := make([]models.Box, len(s.Boxes))
	copy(boxes, s.Boxes)
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].ZIndex < boxes[j].ZIndex })
	for _, b := range boxes {
		view.Boxes = append(view.Boxes, buildBox(b, resolved[b.ID]))
	}
	return view
}

func buildBox(b models.Box, values models.ResolvedMap) BoxView {
	opacity := variables.RuleNumber(b.OpacityRules, values, b.Opacity)
	overlay := variables.RuleNumber(b.OverlaySizeRules, values, b.OverlaySize)

	var style strings.Builder
	fmt.Fprintf(&style, "left:%gpx;top:%gpx;width:%gpx;height:%gpx;z-index:%d;",
		b.Frame.X, b.Frame.Y, b.Frame.Width, b.Frame.Height, b.ZIndex)
	fmt.Fprintf(&style, "opacity:%g;", clampPercent(opacity)/100)
	if overlay != 100 {
		fmt.Fprintf(&style, "transform:scale(%g);", overlay/100)
	}
	if b.Background.Visible {
		fmt.Fprintf(&style, "background-color:%s;", cssColor(variables.RegionColor(b.Background, "background", values, models.DefaultBackground)))
	}
	if b.Border.Visible && b.BorderWidth > 0 {
		fmt.Fprintf(&style, "border:%dpx solid %s;", b.BorderWidth, cssColor(variables.RegionColor(b.Border, "border", values, models.DefaultBorderColor)))
	}

	return BoxView{
		ID:          b.ID,
		Style:       template.CSS(style.String()),
		Header:      buildRegion(b.Header, "header", values),
		Left:        buildRegion(b.Left, "left", values),
		Right:       buildRegion(b.Right, "right", values),
		LeftPercent: b.LeftRightRatio,
	}
}

func buildRegion(r models.Region, name string, values models.ResolvedMap) RegionView {
	plain, html := variables.RegionText(r, name, values)
	color := r.Color
	if m, ok := variables.MatchRule(r.ColorRules, values); ok && m.Value != "" {
		color = m.Value
	}
	if color == "" {
		color = fallbackTextColor
	}
	return RegionView{
		Visible:  r.Visible,
		Plain:    plain,
		HTML:     template.HTML(html),
		Color:    cssColor(color),
		FontSize: r.FontSize,
		Align:    r.Align,
	}
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// cssColor keeps colors that come from live values from breaking out of the style
// attribute or loading anything.
func cssColor(c string) template.CSS {
	c = strings.TrimSpace(c)
	if c == "" || strings.ContainsAny(c, ";:{}<>\"'\\") || strings.Contains(strings.ToLower(c), "url") {
		return fallbackTextColor
	}
	return template.CSS(c)
}
