package lifecycle

import (
	"fmt"
	"strings"

	"traffic-control-backend/internal/models"
	"traffic-control-backend/internal/schedule"
)

func updatedEmail(job models.Job, manageBaseURL string) string {
	var b strings.Builder
	b.WriteString("<p>Your traffic control job was updated. Current schedule:</p><ul>")
	for _, e := range job.JobDates {
		if e.Cancelled {
			continue
		}
		day := schedule.FromKey(e.Date)
		fmt.Fprintf(&b, `<li>%s (<a href="%s/cancel-job/%s?date=%s">cancel this date</a>)</li>`,
			day.Display(), manageBaseURL, job.ID, day.ISO())
	}
	b.WriteString("</ul>")
	return b.String()
}

func rescheduledEmail(job models.Job, oldDay, newDay schedule.Day, manageBaseURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Your job on %s was moved to %s.</p>", oldDay.Display(), newDay.Display())
	b.WriteString(updatedEmail(job, manageBaseURL))
	return b.String()
}

func cancelledEmail(job models.Job, cancelled []schedule.Day, manageBaseURL string) string {
	var b strings.Builder
	b.WriteString("<p>The following date(s) were cancelled:</p><ul>")
	for _, d := range cancelled {
		fmt.Fprintf(&b, "<li>%s</li>", d.Display())
	}
	b.WriteString("</ul>")
	if !job.Cancelled {
		fmt.Fprintf(&b, `<p><a href="%s/manage-job/%s">Review or update the remaining schedule</a></p>`,
			manageBaseURL, job.ID)
	}
	return b.String()
}
