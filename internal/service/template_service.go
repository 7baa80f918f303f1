// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/campaign-engine/internal/model"
)

const unknownValue = "<unknown>"

// RenderTemplate substitutes {key} placeholders. Empty values render as <unknown>.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = replace(result, "{"+k+"}", v)
	}
	return result
}

func replace(template, placeholder, value string) string {
	if strings.TrimSpace(value) == "" {
		value = unknownValue
	}
	return strings.ReplaceAll(template, placeholder, value)
}

// ContactTemplateData exposes the fields a campaign body may reference.
func ContactTemplateData(c *model.Contact) map[string]string {
	return map[string]string{
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"full_name":  c.FullName(),
	}
}
