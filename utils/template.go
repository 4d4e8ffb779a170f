package utils

import (
	"regexp"

	"coldmail/models"
)

var templateVarPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Variables that must resolve to a non-empty value. Anything else may
// substitute an empty string (an empty company line reads fine, an
// empty greeting does not).
var requiredTemplateVars = map[string]bool{
	"first_name": true,
	"email":      true,
}

// TemplateVars builds the substitution map for a lead: the named
// columns plus any custom fields. Custom fields win on collision.
func TemplateVars(lead *models.Lead) map[string]string {
	vars := map[string]string{
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
		"full_name":  lead.FullName(),
		"email":      lead.Email,
		"company":    lead.Company,
		"job_title":  lead.JobTitle,
		"website":    lead.Website,
		"industry":   lead.Industry,
	}
	for k, v := range lead.CustomFields {
		vars[k] = v
	}
	return vars
}

// RenderTemplate substitutes {{variable}} placeholders with lead data.
// An unknown variable, or an empty value for a required one, returns a
// *TemplateError so the caller can exclude the lead without aborting
// the campaign.
func RenderTemplate(text string, lead *models.Lead) (string, error) {
	vars := TemplateVars(lead)

	var missing string
	out := templateVarPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := templateVarPattern.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok || (value == "" && requiredTemplateVars[name]) {
			if missing == "" {
				missing = name
			}
			return match
		}
		return value
	})
	if missing != "" {
		return "", &TemplateError{Variable: missing}
	}
	return out, nil
}

// ContainsTemplateVars reports whether text still has unexpanded
// placeholders, used as a final guard before sending.
func ContainsTemplateVars(text string) bool {
	return templateVarPattern.MatchString(text)
}
