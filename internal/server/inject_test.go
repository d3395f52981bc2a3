package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInjectScript(t *testing.T) {
	tests := []struct {
		name  string
		page  string
		check func(t *testing.T, out string)
	}{
		{
			name: "full document",
			page: "<!DOCTYPE html><html><head></head><body><main>x</main></body></html>",
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, `<main>x</main><script src="/__livereload.js"></script></body>`)
				assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
			},
		},
		{
			name: "fragment without body",
			page: "<p>partial</p>",
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "<p>partial</p>")
				assert.Contains(t, out, `<script src="/__livereload.js"></script></body>`)
			},
		},
		{
			name: "script appended once",
			page: "<html><body><div><p>a</p></div><footer>b</footer></body></html>",
			check: func(t *testing.T, out string) {
				assert.Equal(t, 1, strings.Count(out, "/__livereload.js"))
				assert.Contains(t, out, `<footer>b</footer><script`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, string(injectScript([]byte(tt.page), ScriptPath)))
		})
	}
}
