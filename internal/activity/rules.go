package activity

import (
	"fmt"
	"slices"
	"strings"

	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/emission"
)

const anyActivity = "*"

// MatchRule picks the award rule for an activity: the first rule for the
// activity type whose detail condition holds, else the first wildcard rule.
func MatchRule(rules []config.PointRule, activityType string, details emission.Details) (config.PointRule, bool) {
	activityType = strings.ToLower(strings.TrimSpace(activityType))
	for _, rule := range rules {
		if strings.EqualFold(rule.ActivityType, activityType) && detailMatches(rule, details) {
			return rule, true
		}
	}
	for _, rule := range rules {
		if rule.ActivityType == anyActivity && detailMatches(rule, details) {
			return rule, true
		}
	}
	return config.PointRule{}, false
}

func detailMatches(rule config.PointRule, details emission.Details) bool {
	if rule.DetailKey == "" {
		return true
	}
	value := strings.ToLower(details.String(rule.DetailKey))
	return slices.ContainsFunc(rule.DetailValues, func(v string) bool {
		return strings.EqualFold(v, value)
	})
}

func awardReason(rule config.PointRule, activityType string) string {
	if strings.TrimSpace(rule.Description) != "" {
		return rule.Description
	}
	return fmt.Sprintf("Activity: %s", activityType)
}
