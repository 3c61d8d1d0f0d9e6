package summary

import (
	"fmt"
	"strings"
	"time"

	"carelink/internal/core"
)

const SystemPrompt = "Act as a compassionate care analyst. You are summarizing journal entries for a dementia patient. " +
	"Provide a professional, supportive, and concise summary focusing on key trends, behavioral patterns, " +
	"recurring needs (e.g., sleep, activity), and overall mood observed in the entries. Use bullet points for key findings."

const entrySeparator = "\n---\n"

// FormatEntries renders entries one per block as
// "[2024-03-10] Tags: Mood, Sleep - Details: text".
func FormatEntries(entries []core.JournalEntry, loc *time.Location) string {
	blocks := make([]string, len(entries))
	for i, e := range entries {
		details := strings.TrimSpace(e.Details)
		if details == "" {
			details = "No details"
		}
		blocks[i] = fmt.Sprintf("[%s] Tags: %s - Details: %s",
			core.DateKeyOf(e.Timestamp, loc), strings.Join(core.TagNames(e.Tags), ", "), details)
	}
	return strings.Join(blocks, entrySeparator)
}

// BuildPrompt assembles the report request for one patient and date range.
func BuildPrompt(patientName string, r core.DateRange, entries []core.JournalEntry, loc *time.Location) Prompt {
	user := fmt.Sprintf("Summarize the following journal entries for patient %q over the period %s to %s. "+
		"Focus on trends and actionable observations for the caregiver:\n\n-- JOURNAL ENTRIES --\n%s",
		patientName, r.Start, r.End, FormatEntries(entries, loc))
	return Prompt{System: SystemPrompt, User: user}
}
