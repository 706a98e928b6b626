package reminder

import (
	"fmt"

	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/recurrence"
)

// SocialContext renders the groupmate snapshot stored on the history row and
// appended to the notification. It is empty when the user has no groupmates.
func SocialContext(snap model.SocialSnapshot, freq recurrence.Freq) string {
	if snap.Members == 0 {
		return ""
	}
	noun := "groupmates"
	if snap.Members == 1 {
		noun = "groupmate"
	}
	return fmt.Sprintf("%d of %d %s already logged %s", snap.Logged, snap.Members, noun, freq.Describe())
}

// Compose builds the notification title and body for a tier.
func Compose(tier model.Tier, goal model.Goal, freq recurrence.Freq, social string) (title, body string) {
	period := freq.Describe()
	switch tier {
	case model.TierSupportive:
		title = "Still time for " + goal.Title
		body = fmt.Sprintf("You haven't logged %s %s yet. There's still time.", goal.Title, period)
	case model.TierLastChance:
		title = "Last call: " + goal.Title
		body = fmt.Sprintf("Log %s before %s is over.", goal.Title, periodEnd(freq))
	default:
		title = "Time for " + goal.Title
		body = fmt.Sprintf("This is usually when you log %s. A quick check-in keeps you on track.", goal.Title)
	}
	if social != "" {
		body += " " + social + "."
	}
	return title, body
}

func periodEnd(freq recurrence.Freq) string {
	switch freq {
	case recurrence.Weekly:
		return "the week"
	case recurrence.Monthly:
		return "the month"
	case recurrence.Yearly:
		return "the year"
	}
	return "the day"
}
