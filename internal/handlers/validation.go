package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/uconnect/uconnect/pkg/errors"
	"github.com/uconnect/uconnect/pkg/response"
	appValidator "github.com/uconnect/uconnect/pkg/validator"
)

// fieldLabels are the names the campus site shows next to its form inputs.
var fieldLabels = map[string]string{
	"identifier":  "Email or username",
	"oldPassword": "Current password",
	"newPassword": "New password",
	"body":        "Comment",
}

// tagMessages render a failed rule; %[1]s is the label, %[2]s the rule parameter.
var tagMessages = map[string]string{
	"required": "%[1]s is required",
	"email":    "%[1]s must be a valid email address",
	"min":      "%[1]s must be at least %[2]s characters",
	"max":      "%[1]s must be at most %[2]s characters",
	"username": "%[1]s may only use letters, digits, '.', '_' or '-' (3-30 characters)",
	"category": "%[1]s must be one of " + strings.Join(appValidator.PostCategories, ", "),
}

// bindAndValidate decodes the JSON body into dest and applies its validate
// tags, writing a BAD_REQUEST response and returning false on failure.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}
	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(validationMessage(err)))
		return false
	}
	return true
}

// validationMessage joins one sentence per failed field.
func validationMessage(err error) string {
	var failures appValidator.ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		return "invalid request payload"
	}

	sentences := make([]string, len(failures))
	for i, f := range failures {
		label := fieldLabel(f.Field)
		if format, ok := tagMessages[f.Tag]; ok {
			sentences[i] = fmt.Sprintf(format, label, f.Param)
			continue
		}
		sentences[i] = fmt.Sprintf("%s is invalid (%s)", label, f.Tag)
	}
	return strings.Join(sentences, "; ")
}

func fieldLabel(field string) string {
	if label, ok := fieldLabels[field]; ok {
		return label
	}
	if field == "" {
		return "Field"
	}
	return strings.ToUpper(field[:1]) + field[1:]
}

// pageQuery reads ?page= and ?per_page=, ignoring malformed values. The
// service layer clamps per_page to its maximum.
func pageQuery(c *gin.Context, defaultPerPage int) (page, perPage int) {
	return queryInt(c, "page", 1), queryInt(c, "per_page", defaultPerPage)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return fallback
	}
	return parsed
}
