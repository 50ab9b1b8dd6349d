package models

// Default visual attributes for freshly created boxes.
const (
	DefaultBoxX          = 50
	DefaultBoxY          = 50
	DefaultBoxWidth      = 300
	DefaultBoxHeight     = 200
	DefaultAnchor        = "top-left"
	DefaultFontSize      = 16
	DefaultHeaderSize    = 20
	DefaultAlign         = "center"
	DefaultRatio         = 50.0
	DefaultOpacity       = 100.0
	DefaultOverlaySize   = 100.0
	DefaultBorderWidth   = 2
	DefaultBackground    = "#262626"
	DefaultBorderColor   = "#ffffff"
	DefaultHeaderColor   = "#404040"
	DefaultTextColor     = "#ffffff"
	DuplicateOffset      = 20
	MinRefreshIntervalMs = 100
)

// Frame is the translation and size of a box on the canvas.
type Frame struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// VariableRule is one first-match rule entry. Value is the effect applied when the
// live value of Variable equals ExpectedValue: a color, an opacity or an overlay size.
type VariableRule struct {
	ID            string `json:"id" yaml:"id"`
	Variable      string `json:"variable" yaml:"variable"`
	ExpectedValue string `json:"expectedValue" yaml:"expected_value"`
	Value         string `json:"value" yaml:"value"`
}

// Region is one styled area of a box (background, border, header, left, right).
type Region struct {
	Color      string         `json:"color" yaml:"color"`
	Text       string         `json:"text" yaml:"text"`
	ColorRules []VariableRule `json:"colorRules" yaml:"color_rules"`
	Visible    bool           `json:"visible" yaml:"visible"`
	FontSize   int            `json:"fontSize" yaml:"font_size"`
	Align      string         `json:"align" yaml:"align"`
}

// Box is a positioned, styled panel showing header, left and right text.
type Box struct {
	ID               string         `json:"id" yaml:"id"`
	Frame            Frame          `json:"frame" yaml:"frame"`
	Anchor           string         `json:"anchor" yaml:"anchor"`
	ZIndex           int            `json:"zIndex" yaml:"z_index"`
	Opacity          float64        `json:"opacity" yaml:"opacity"`
	OpacityRules     []VariableRule `json:"opacityRules" yaml:"opacity_rules"`
	OverlaySize      float64        `json:"overlaySize" yaml:"overlay_size"`
	OverlaySizeRules []VariableRule `json:"overlaySizeRules" yaml:"overlay_size_rules"`
	BorderWidth      int            `json:"borderWidth" yaml:"border_width"`
	Background       Region         `json:"background" yaml:"background"`
	Border           Region         `json:"border" yaml:"border"`
	Header           Region         `json:"header" yaml:"header"`
	Left             Region         `json:"left" yaml:"left"`
	Right            Region         `json:"right" yaml:"right"`
	LeftRightRatio   float64        `json:"leftRightRatio" yaml:"left_right_ratio"`
}

// NewBox returns a box with default visual attributes at the default position.
func NewBox(id string) Box {
	return Box{
		ID:               id,
		Frame:            Frame{X: DefaultBoxX, Y: DefaultBoxY, Width: DefaultBoxWidth, Height: DefaultBoxHeight},
		Anchor:           DefaultAnchor,
		Opacity:          DefaultOpacity,
		OpacityRules:     []VariableRule{},
		OverlaySize:      DefaultOverlaySize,
		OverlaySizeRules: []VariableRule{},
		BorderWidth:      DefaultBorderWidth,
		Background:       newRegion(DefaultBackground, 0),
		Border:           newRegion(DefaultBorderColor, 0),
		Header:           newRegion(DefaultHeaderColor, DefaultHeaderSize),
		Left:             newRegion(DefaultTextColor, DefaultFontSize),
		Right:            newRegion(DefaultTextColor, DefaultFontSize),
		LeftRightRatio:   DefaultRatio,
	}
}

func newRegion(color string, fontSize int) Region {
	return Region{
		Color:      color,
		ColorRules: []VariableRule{},
		Visible:    true,
		FontSize:   fontSize,
		Align:      DefaultAlign,
	}
}

// Normalize clamps numeric ranges so a stored box always satisfies its invariants.
func (b *Box) Normalize() {
	b.LeftRightRatio = clamp(b.LeftRightRatio, 0, 100)
	b.Opacity = clamp(b.Opacity, 0, 100)
	if b.OverlaySize < 0 {
		b.OverlaySize = 0
	}
	if b.Frame.Width < 0 {
		b.Frame.Width = 0
	}
	if b.Frame.Height < 0 {
		b.Frame.Height = 0
	}
}

// Clone returns a deep copy; rule slices are not shared with the receiver.
func (b Box) Clone() Box {
	out := b
	out.OpacityRules = cloneRules(b.OpacityRules)
	out.OverlaySizeRules = cloneRules(b.OverlaySizeRules)
	out.Background = b.Background.clone()
	out.Border = b.Border.clone()
	out.Header = b.Header.clone()
	out.Left = b.Left.clone()
	out.Right = b.Right.clone()
	return out
}

func (r Region) clone() Region {
	r.ColorRules = cloneRules(r.ColorRules)
	return r
}

func cloneRules(rules []VariableRule) []VariableRule {
	if rules == nil {
		return nil
	}
	out := make([]VariableRule, len(rules))
	copy(out, rules)
	return out
}

// Regions returns the named regions of the box in a stable order.
func (b *Box) Regions() []NamedRegion {
	return []NamedRegion{
		{Name: "background", Region: &b.Background},
		{Name: "border", Region: &b.Border},
		{Name: "header", Region: &b.Header},
		{Name: "left", Region: &b.Left},
		{Name: "right", Region: &b.Right},
	}
}

// NamedRegion pairs a region with its field name.
type NamedRegion struct {
	Name   string
	Region *Region
}

// Templates returns every template string of the box keyed by field name: region texts
// under "<region>.text" and rule variables under RuleField(rule.ID).
func (b Box) Templates() map[string]string {
	out := make(map[string]string)
	for _, nr := range b.Regions() {
		out[TextField(nr.Name)] = nr.Region.Text
		addRuleTemplates(out, nr.Region.ColorRules)
	}
	addRuleTemplates(out, b.OpacityRules)
	addRuleTemplates(out, b.OverlaySizeRules)
	return out
}

func addRuleTemplates(out map[string]string, rules []VariableRule) {
	for _, r := range rules {
		if r.Variable != "" {
			out[RuleField(r.ID)] = r.Variable
		}
	}
}

// TextField is the resolved-map key of a region's text override.
func TextField(region string) string {
	return region + ".text"
}

// RuleField is the resolved-map key of a rule's live variable value.
func RuleField(ruleID string) string {
	return "rule:" + ruleID
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
