package core

import (
	"fmt"
	"strings"
)

// Tag is one of the fixed journal tag vocabulary.
type Tag string

const (
	TagMood        Tag = "Mood"
	TagSleep       Tag = "Sleep"
	TagMedication  Tag = "Medication"
	TagActivity    Tag = "Activity"
	TagMeal        Tag = "Meal"
	TagBehavior    Tag = "Behavior"
	TagAppointment Tag = "Appointment"
	TagGeneral     Tag = "General"
)

// AllTags lists the vocabulary in display order.
var AllTags = []Tag{
	TagMood,
	TagSleep,
	TagMedication,
	TagActivity,
	TagMeal,
	TagBehavior,
	TagAppointment,
	TagGeneral,
}

var tagColors = map[Tag]string{
	TagMood:        "#DAEEAC",
	TagSleep:       "#E2D2F3",
	TagMedication:  "#B4CBFF",
	TagActivity:    "#D4EFFF",
	TagMeal:        "#FBD9A6",
	TagBehavior:    "#FFC2C3",
	TagAppointment: "#FFEAB1",
	TagGeneral:     "#BFBFBF",
}

// InvalidTagError is returned for tags outside the vocabulary.
type InvalidTagError struct {
	Tag string
}

func (e InvalidTagError) Error() string {
	return fmt.Sprintf("invalid tag %q", e.Tag)
}

func (t Tag) Validate() error {
	if _, ok := tagColors[t]; !ok {
		return InvalidTagError{Tag: string(t)}
	}
	return nil
}

// Color returns the tag's display colour, grey for unknown tags.
func (t Tag) Color() string {
	if c, ok := tagColors[t]; ok {
		return c
	}
	return "#EEEEEE"
}

// ParseTag matches s case-insensitively against the vocabulary.
func ParseTag(s string) (Tag, error) {
	s = strings.TrimSpace(s)
	for _, t := range AllTags {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", InvalidTagError{Tag: s}
}

// ParseTags parses and de-duplicates tags, returning them in vocabulary order.
func ParseTags(raw []string) ([]Tag, error) {
	seen := make(map[Tag]bool, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		t, err := ParseTag(s)
		if err != nil {
			return nil, err
		}
		seen[t] = true
	}
	out := make([]Tag, 0, len(seen))
	for _, t := range AllTags {
		if seen[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

// TagNames converts tags to plain strings.
func TagNames(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}
