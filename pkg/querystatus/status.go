// Package querystatus maps the backend's verification state of a generated
// SQL query, together with its evaluation score, onto the status, color and
// label the admin console renders.
package querystatus

import "strings"

// RawStatus is the backend-authoritative verification state of a query.
type RawStatus string

const (
	SQLError    RawStatus = "SQL_ERROR"
	NotVerified RawStatus = "NOT_VERIFIED"
	Verified    RawStatus = "VERIFIED"
)

// Valid reports whether s is one of the three recognized raw statuses.
func (s RawStatus) Valid() bool {
	switch s {
	case SQLError, NotVerified, Verified:
		return true
	default:
		return false
	}
}

// String returns the wire value.
func (s RawStatus) String() string {
	return string(s)
}

// ParseRawStatus converts a wire value into a RawStatus. The comparison is
// exact; backend values are upper case.
func ParseRawStatus(v string) (RawStatus, bool) {
	s := RawStatus(v)
	return s, s.Valid()
}

// DisplayStatus is the UI-facing refinement of RawStatus. NOT_VERIFIED fans
// out into three confidence bands.
type DisplayStatus string

const (
	DisplaySQLError  DisplayStatus = "SQL_ERROR"
	LowConfidence    DisplayStatus = "LOW_CONFIDENCE"
	MediumConfidence DisplayStatus = "MEDIUM_CONFIDENCE"
	HighConfidence   DisplayStatus = "HIGH_CONFIDENCE"
	DisplayVerified  DisplayStatus = "VERIFIED"
)

// String returns the wire value.
func (s DisplayStatus) String() string {
	return string(s)
}

// Valid reports whether s is one of the five display statuses.
func (s DisplayStatus) Valid() bool {
	_, ok := displayColors[s]
	return ok
}

// ParseDisplayStatus converts a wire value into a DisplayStatus.
func ParseDisplayStatus(v string) (DisplayStatus, bool) {
	s := DisplayStatus(v)
	return s, s.Valid()
}

// DisplayColor is the text color token a display status is rendered with.
type DisplayColor string

const (
	Red    DisplayColor = "red"
	Orange DisplayColor = "orange"
	Yellow DisplayColor = "yellow"
	Green  DisplayColor = "green"
	Blue   DisplayColor = "blue"
)

// String returns the token.
func (c DisplayColor) String() string {
	return string(c)
}

// Hex returns the RGB value used when the color is rendered outside the
// browser, e.g. in a terminal.
func (c DisplayColor) Hex() string {
	switch c {
	case Red:
		return "#EF4444"
	case Orange:
		return "#F97316"
	case Yellow:
		return "#EAB308"
	case Green:
		return "#22C55E"
	case Blue:
		return "#3B82F6"
	default:
		return ""
	}
}

// Score thresholds for NOT_VERIFIED queries. Each bound belongs to the
// higher band.
const (
	MediumConfidenceScore = 70.0
	HighConfidenceScore   = 90.0
)

// displayOrder lists display statuses from worst to best.
var displayOrder = [...]DisplayStatus{
	DisplaySQLError,
	LowConfidence,
	MediumConfidence,
	HighConfidence,
	DisplayVerified,
}

// displayColors is read-only after package initialization.
var displayColors = map[DisplayStatus]DisplayColor{
	DisplaySQLError:  Red,
	LowConfidence:    Orange,
	MediumConfidence: Yellow,
	HighConfidence:   Green,
	DisplayVerified:  Blue,
}

// DisplayStatuses returns every display status, worst first.
func DisplayStatuses() []DisplayStatus {
	out := make([]DisplayStatus, len(displayOrder))
	copy(out, displayOrder[:])
	return out
}

// Classify derives the display status of a query. The second result is
// false when raw is not a recognized status; no display status exists for
// it.
func Classify(raw RawStatus, score float64) (DisplayStatus, bool) {
	switch raw {
	case SQLError:
		return DisplaySQLError, true
	case NotVerified:
		switch {
		case score < MediumConfidenceScore:
			return LowConfidence, true
		case score < HighConfidenceScore:
			return MediumConfidence, true
		default:
			return HighConfidence, true
		}
	case Verified:
		return DisplayVerified, true
	default:
		return "", false
	}
}

// ColorOf returns the color bound to a display status.
func ColorOf(status DisplayStatus) (DisplayColor, bool) {
	c, ok := displayColors[status]
	return c, ok
}

// ClassifyColor classifies raw and score and returns the color of the
// resulting display status. It reports false for an unrecognized raw
// status rather than assuming one.
func ClassifyColor(raw RawStatus, score float64) (DisplayColor, bool) {
	status, ok := Classify(raw, score)
	if !ok {
		return "", false
	}
	return ColorOf(status)
}

// Format renders a raw or display status as a human readable label:
// NOT_VERIFIED becomes "not verified" and SQL_ERROR becomes "SQL error".
// The zero value formats as the empty string.
func Format[T RawStatus | DisplayStatus](status T) string {
	s := string(status)
	if s == "" {
		return ""
	}
	formatted := strings.ToLower(strings.Replace(s, "_", " ", 1))
	if s == string(SQLError) {
		formatted = strings.Replace(formatted, "sql", "SQL", 1)
	}
	return formatted
}

// IsVerified reports whether raw is VERIFIED.
func IsVerified(raw RawStatus) bool {
	return raw == Verified
}

// IsNotVerified reports whether raw is NOT_VERIFIED.
func IsNotVerified(raw RawStatus) bool {
	return raw == NotVerified
}

// Presentation is everything a list or detail view needs to render a
// query's status.
type Presentation struct {
	Status DisplayStatus `json:"display_status"`
	Color  DisplayColor  `json:"display_color"`
	Label  string        `json:"label"`
}

// Describe classifies raw and score and bundles the status, color and
// label. It reports false when raw cannot be classified.
func Describe(raw RawStatus, score float64) (Presentation, bool) {
	status, ok := Classify(raw, score)
	if !ok {
		return Presentation{}, false
	}
	return Presentation{
		Status: status,
		Color:  displayColors[status],
		Label:  Format(status),
	}, true
}
