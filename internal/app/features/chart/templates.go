// internal/app/features/chart/templates.go
package chart

import (
	"embed"

	"github.com/dalemusser/waffle/pantry/templates"
)

//go:embed templates/*.gohtml
var FS embed.FS

func init() {
	templates.Register(templates.Set{
		Name:     "chart",
		FS:       FS,
		Patterns: []string{"templates/*.gohtml"},
	})
}
