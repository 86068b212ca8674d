// internal/service/template_service.go
package service

import (
	"html"
	"sort"
	"strings"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// RenderTemplate replaces {{key}} placeholders in one pass, so a value that itself looks like a
// placeholder is never expanded. Unknown placeholders are left alone.
func RenderTemplate(template string, data map[string]string) string {
	return replacer(data, func(v string) string { return v }).Replace(template)
}

// RenderHTML is RenderTemplate for an HTML body: values are escaped before they are substituted.
func RenderHTML(template string, data map[string]string) string {
	return replacer(data, html.EscapeString).Replace(template)
}

func replacer(data map[string]string, value func(string) string) *strings.Replacer {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", value(data[k]))
	}
	return strings.NewReplacer(pairs...)
}

func recipientData(l *model.EmailLog) map[string]string {
	return map[string]string{
		"email": l.RecipientEmail,
		"name":  l.DisplayName(),
	}
}
