package variables

import (
	"testing"

	"github.com/companion-board/backend/internal/models"
)

func TestParse(t *testing.T) {
	t.Run("no tokens", func(t *testing.T) {
		if toks := Parse("plain text (with parens)"); len(toks) != 0 {
			t.Errorf("Expected no tokens, got %d", len(toks))
		}
	})

	t.Run("tokens in order with optional index", func(t *testing.T) {
		toks := Parse("[1]$(custom:x) / $(custom:y) and [12]$(internal:time_hms)")
		if len(toks) != 3 {
			t.Fatalf("Expected 3 tokens, got %d", len(toks))
		}
		want := []Token{
			{Raw: "[1]$(custom:x)", Namespace: "custom", Name: "x", ConnectionIndex: 1, Indexed: true},
			{Raw: "$(custom:y)", Namespace: "custom", Name: "y"},
			{Raw: "[12]$(internal:time_hms)", Namespace: "internal", Name: "time_hms", ConnectionIndex: 12, Indexed: true},
		}
		for i := range want {
			if toks[i] != want[i] {
				t.Errorf("token %d: expected %+v, got %+v", i, want[i], toks[i])
			}
		}
	})

	t.Run("index must be immediately followed by the token", func(t *testing.T) {
		toks := Parse("[1] $(custom:x)")
		if len(toks) != 1 || toks[0].Indexed || toks[0].Raw != "$(custom:x)" {
			t.Errorf("Expected unindexed token, got %+v", toks)
		}
	})

	t.Run("malformed placeholders stay literal", func(t *testing.T) {
		for _, in := range []string{"$(nocolon)", "$(:name)", "$(ns:)", "$ (a:b)"} {
			if toks := Parse(in); len(toks) != 0 {
				t.Errorf("%q: expected no tokens, got %+v", in, toks)
			}
		}
	})
}

func TestSubstituteReplacesAllOccurrences(t *testing.T) {
	tmpl := "$(a:b) and $(a:b) and [1]$(a:b)"
	calls := 0
	out := Substitute(tmpl, Parse(tmpl), func(tok Token) string {
		calls++
		if tok.Indexed {
			return "I"
		}
		return "D"
	})
	if out != "D and D and I" {
		t.Errorf("Expected %q, got %q", "D and D and I", out)
	}
	if calls != 2 {
		t.Errorf("Expected one lookup per distinct literal (2), got %d", calls)
	}
}

func TestStripTokens(t *testing.T) {
	if got := StripTokens("Temp: $(internal:temp)°"); got != "Temp: °" {
		t.Errorf("Expected %q, got %q", "Temp: °", got)
	}
}

func TestResolveURL(t *testing.T) {
	conns := []models.Connection{
		{ID: "c1", URL: "http://a/"},
		{ID: "c2", URL: ""},
	}
	tests := []struct {
		name    string
		index   int
		def     string
		want    string
		wantOK  bool
	}{
		{"default", 0, "http://b", "http://b", true},
		{"default empty", 0, "", "", false},
		{"indexed trims slash", 1, "http://b", "http://a", true},
		{"indexed empty url", 2, "http://b", "", false},
		{"dangling index", 3, "http://b", "", false},
		{"negative index", -1, "http://b", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveURL(tt.index, tt.def, conns)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ResolveURL(%d) = %q, %v; want %q, %v", tt.index, got, ok, tt.want, tt.wantOK)
			}
		})
	}

	if AnyResolvable("", []models.Connection{{URL: " "}}) {
		t.Error("Expected blank connections to be unresolvable")
	}
	if !AnyResolvable("", conns) {
		t.Error("Expected connection 1 to be resolvable")
	}
}
