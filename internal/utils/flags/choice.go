package flags

import (
	"fmt"
	"strings"
)

const (
	choiceUsageTemplate        = "`<%s>`"
	choiceUsageWithDescription = "`<%s>` %s"
	choiceSeparator            = "|"
)

// FormatChoiceUsage renders an enumerated flag usage such as "`<CLI|api>` description",
// upper-casing the default choice and dropping blank or repeated entries.
func FormatChoiceUsage(defaultChoice string, choices []string, description string) string {
	alternatives := strings.Join(displayChoices(defaultChoice, choices), choiceSeparator)
	trimmedDescription := strings.TrimSpace(description)
	if len(trimmedDescription) == 0 {
		return fmt.Sprintf(choiceUsageTemplate, alternatives)
	}
	return fmt.Sprintf(choiceUsageWithDescription, alternatives, trimmedDescription)
}

func displayChoices(defaultChoice string, choices []string) []string {
	defaultKey := strings.ToLower(strings.TrimSpace(defaultChoice))
	seenKeys := make(map[string]bool, len(choices))
	displayed := make([]string, 0, len(choices))
	for _, choice := range choices {
		trimmed := strings.TrimSpace(choice)
		key := strings.ToLower(trimmed)
		if len(key) == 0 || seenKeys[key] {
			continue
		}
		seenKeys[key] = true
		if key == defaultKey {
			trimmed = strings.ToUpper(trimmed)
		}
		displayed = append(displayed, trimmed)
	}
	return displayed
}
