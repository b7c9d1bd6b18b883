package reconciler

import (
	"fmt"
	"strings"

	"github.com/moorhen/cartograph/internal/models"
)

// RuleSeverity ranks a compliance violation.
type RuleSeverity string

const (
	SeverityCritical RuleSeverity = "critical"
	SeverityHigh     RuleSeverity = "high"
	SeverityMedium   RuleSeverity = "medium"
	SeverityLow      RuleSeverity = "low"
)

// Rule validates one live resource against policy. Check returns ok=false
// plus a message when the resource violates the rule.
type Rule struct {
	Name        string
	Description string
	Severity    RuleSeverity
	AppliesTo   func(*PlannedResource) bool
	Check       func(planned *PlannedResource, actual map[string]interface{}) (ok bool, message string)
}

// DefaultRules covers the baseline posture checks: nothing publicly
// accessible, stateful kinds encrypted, and databases deletion-protected.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "no-public-access",
			Description: "resources must not be publicly accessible",
			Severity:    SeverityCritical,
			Check: func(planned *PlannedResource, actual map[string]interface{}) (bool, string) {
				for _, key := range []string{"publiclyAccessible", "publicAccess"} {
					if truthy(actual[key]) {
						return false, fmt.Sprintf("%s is enabled", key)
					}
				}
				return true, ""
			},
		},
		{
			Name:        "encryption-at-rest",
			Description: "stateful resources must have encryption enabled",
			Severity:    SeverityCritical,
			AppliesTo: func(planned *PlannedResource) bool {
				return statefulTypes[planned.ResourceType]
			},
			Check: func(planned *PlannedResource, actual map[string]interface{}) (bool, string) {
				v, present := lookupFold(actual, "encryption")
				if !present {
					return true, "" // provider does not report it
				}
				if !truthy(v) {
					return false, "encryption is disabled"
				}
				return true, ""
			},
		},
		{
			Name:        "deletion-protection",
			Description: "databases should carry deletion protection",
			Severity:    SeverityMedium,
			AppliesTo: func(planned *PlannedResource) bool {
				return planned.ResourceType == models.ResourceDatabase
			},
			Check: func(planned *PlannedResource, actual map[string]interface{}) (bool, string) {
				v, present := lookupFold(actual, "deletionProtection")
				if present && !truthy(v) {
					return false, "deletion protection is disabled"
				}
				return true, ""
			},
		},
	}
}

// truthy interprets booleans and their common string spellings.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true") || strings.EqualFold(t, "enabled")
	default:
		return false
	}
}

// lookupFold finds a key case-insensitively.
func lookupFold(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
