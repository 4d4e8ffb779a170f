package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldmail/models"
)

func testLead() *models.Lead {
	return &models.Lead{
		Email:     "jane@acme.com",
		FirstName: "Jane",
		LastName:  "Doe",
		Company:   "Acme",
		JobTitle:  "CTO",
		CustomFields: map[string]string{
			"pain_point": "slow deploys",
		},
	}
}

func TestRenderTemplateSubstitution(t *testing.T) {
	out, err := RenderTemplate("Hi {{first_name}}, how is {{company}} handling {{pain_point}}?", testLead())
	require.NoError(t, err)
	assert.Equal(t, "Hi Jane, how is Acme handling slow deploys?", out)
}

func TestRenderTemplateWhitespaceInBraces(t *testing.T) {
	out, err := RenderTemplate("Hi {{ first_name }}!", testLead())
	require.NoError(t, err)
	assert.Equal(t, "Hi Jane!", out)
}

func TestRenderTemplateUnknownVariable(t *testing.T) {
	_, err := RenderTemplate("Hi {{nickname}}", testLead())
	var tmplErr *TemplateError
	require.True(t, errors.As(err, &tmplErr))
	assert.Equal(t, "nickname", tmplErr.Variable)
}

func TestRenderTemplateMissingRequiredValue(t *testing.T) {
	lead := testLead()
	lead.FirstName = ""
	_, err := RenderTemplate("Hi {{first_name}}", lead)
	var tmplErr *TemplateError
	require.True(t, errors.As(err, &tmplErr))
	assert.Equal(t, "first_name", tmplErr.Variable)
}

func TestRenderTemplateOptionalEmptyValue(t *testing.T) {
	lead := testLead()
	lead.Company = ""
	out, err := RenderTemplate("Greetings from {{company}}", lead)
	require.NoError(t, err)
	assert.Equal(t, "Greetings from ", out)
}

func TestRenderTemplateNoVariables(t *testing.T) {
	out, err := RenderTemplate("No placeholders here", testLead())
	require.NoError(t, err)
	assert.Equal(t, "No placeholders here", out)
	assert.False(t, ContainsTemplateVars(out))
}
