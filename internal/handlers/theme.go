package handlers

import (
	"fmt"
	"html/template"
	"regexp"
	"strings"

	"github.com/example/cellscan/internal/config"
)

var tokenPattern = regexp.MustCompile(`^(#[0-9a-fA-F]{3,8}|[a-zA-Z]+|rgba?\([0-9.,% ]+\))$`)

// themeStyle renders the design tokens as CSS custom properties. A token that
// is not a plain colour falls back to the default for that slot.
func themeStyle(theme config.Theme) template.CSS {
	d := config.DefaultTheme()
	tokens := []struct{ name, value, fallback string }{
		{"primary", theme.Primary, d.Primary},
		{"accent", theme.Accent, d.Accent},
		{"success", theme.Success, d.Success},
		{"failure", theme.Failure, d.Failure},
		{"background", theme.Background, d.Background},
		{"surface", theme.Surface, d.Surface},
		{"text", theme.Text, d.Text},
	}

	var b strings.Builder
	for _, t := range tokens {
		value := strings.TrimSpace(t.value)
		if !tokenPattern.MatchString(value) {
			value = t.fallback
		}
		fmt.Fprintf(&b, "--%s: %s; ", t.name, value)
	}
	return template.CSS(strings.TrimSpace(b.String()))
}
