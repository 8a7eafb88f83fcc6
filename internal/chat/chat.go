// Package chat answers questions about the selected day's schedule with a
// language model.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	appLog "mealendar/internal/log"
	"mealendar/internal/schedule"
)

// ErrEmptyMessage is returned for blank questions.
var ErrEmptyMessage = errors.New("chat: message cannot be empty")

// Schedule context used when the day's events are not available.
const (
	NotLoggedInContext = "User is not logged in."
	UnavailableContext = "Could not retrieve calendar events."
)

// LLM generates a text completion. *Gemini implements it.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Assistant wraps an LLM with the dashboard persona.
type Assistant struct {
	llm LLM
}

// NewAssistant returns an Assistant answering through llm.
func NewAssistant(llm LLM) *Assistant {
	return &Assistant{llm: llm}
}

// Reply answers message about date, given the schedule context built by
// FormatSchedule (or one of the fallback contexts).
func (a *Assistant) Reply(ctx context.Context, date, scheduleContext, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}

	prompt := BuildPrompt(date, scheduleContext, message)
	appLog.Debug("chat prompt built", "date", date, "prompt_len", len(prompt))

	reply, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("chat: generate: %w", err)
	}
	return reply, nil
}

// BuildPrompt renders the assistant prompt.
func BuildPrompt(date, scheduleContext, message string) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant named Mealendar AI.\n")
	fmt.Fprintf(&b, "Your user has selected the date %s.\n", date)
	b.WriteString("The user's schedule for that day is as follows:\n")
	b.WriteString(scheduleContext)
	b.WriteString("\n\nBased on this schedule, answer the user's question.\n")
	fmt.Fprintf(&b, "User's question: %q\n", message)
	return b.String()
}

// FormatSchedule lists the day's events one per line:
//
//   - Lunch at Gwanghwamun starting at 12:00
//   - Holiday (All day)
func FormatSchedule(d *schedule.Day) string {
	if len(d.Events) == 0 {
		return fmt.Sprintf("No events scheduled for %s.", d.Date)
	}
	lines := make([]string, 0, len(d.Events))
	for _, ev := range d.Events {
		line := "- " + ev.Title
		if ev.Location != "" {
			line += " at " + ev.Location
		}
		if ev.AllDay {
			line += " (All day)"
		} else {
			line += " starting at " + schedule.TimeLabel(ev, d.Location)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
