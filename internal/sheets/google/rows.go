package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"carelink/internal/core"
)

// Header is the column layout of an export sheet.
var Header = []string{"ID", "Date", "Time", "Author", "Tags", "Details", "Photo"}

func entryRow(e core.JournalEntry, loc *time.Location) []any {
	local := e.Timestamp.In(loc)
	return []any{
		e.ID,
		local.Format("2006-01-02"),
		local.Format("15:04"),
		e.AuthorName,
		strings.Join(core.TagNames(e.Tags), ", "),
		e.Details,
		e.ImageURL,
	}
}

// yearPrefixedName prefixes base with year unless it already starts with one.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
