package engine

import (
	"strconv"
	"strings"
	"time"
)

// dateLayouts are accepted by the "date" format hint.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"January 2, 2006",
	"2 January 2006",
}

// frequencyWords are cadence terms accepted by the "frequency" hint,
// in English and Spanish.
var frequencyWords = []string{
	"hourly", "daily", "weekly", "biweekly", "monthly", "quarterly", "yearly", "annually",
	"continuous", "real-time", "realtime", "on-demand",
	"cada", "diaria", "diario", "semanal", "quincenal", "mensual", "trimestral", "anual", "continua", "continuo",
	"every", "per ",
}

// booleanWords map affirmative/negative answers for the "boolean" hint.
var booleanWords = map[string]bool{
	"yes": true, "no": true, "true": true, "false": true,
	"sí": true, "si": true, "y": true, "n": true,
	"enabled": true, "disabled": true,
}

// ValidateFormat reports whether a candidate value passes the format
// hint declared on a required field. An unknown hint falls back to the
// "text" rule so a catalog typo never blocks an assessment.
func ValidateFormat(format, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}

	switch {
	case format == "" || format == "text":
		return true

	case format == "number":
		_, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
		return err == nil

	case format == "boolean":
		return booleanWords[strings.ToLower(value)]

	case format == "date":
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, value); err == nil {
				return true
			}
		}
		return false

	case format == "frequency":
		lower := strings.ToLower(value)
		for _, word := range frequencyWords {
			if strings.Contains(lower, word) {
				return true
			}
		}
		return false

	case strings.HasPrefix(format, "enum:"):
		lower := strings.ToLower(value)
		for _, member := range strings.Split(strings.TrimPrefix(format, "enum:"), "|") {
			if lower == strings.ToLower(strings.TrimSpace(member)) {
				return true
			}
		}
		return false

	default:
		return true
	}
}
