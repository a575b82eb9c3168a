package scheduler

import (
	"fmt"
	"strings"

	"traffic-control-backend/internal/models"
	"traffic-control-backend/internal/schedule"
)

// Email bodies are simple inline HTML; rendering and delivery happen in the
// notification worker, so these only assemble content.

func confirmationEmail(req SubmitRequest, days []schedule.Day, yesLink, noLink string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hi %s,</p>", html(req.Name))
	fmt.Fprintf(&b, "<p>You requested %d additional flagger(s) for the following date(s):</p><ul>", req.AdditionalFlaggerCount)
	for _, d := range days {
		fmt.Fprintf(&b, "<li>%s</li>", d.Display())
	}
	b.WriteString("</ul>")
	b.WriteString("<p>Nothing is booked yet. Please confirm whether you still want the additional flaggers:</p>")
	fmt.Fprintf(&b, `<p><a href="%s">Yes, include additional flaggers</a></p>`, yesLink)
	fmt.Fprintf(&b, `<p><a href="%s">No, schedule without them</a></p>`, noLink)
	return b.String()
}

func scheduledEmail(jobs []models.Job, cancelLinks map[string]string) string {
	var b strings.Builder
	b.WriteString("<p>Your traffic control request has been scheduled:</p><ul>")
	for _, j := range jobs {
		for _, e := range j.JobDates {
			if e.Cancelled {
				continue
			}
			day := schedule.FromKey(e.Date)
			fmt.Fprintf(&b, "<li>%s, %s to %s at %s", day.Display(), html(j.TimeStart), html(j.TimeEnd), html(j.Address))
			if link, ok := cancelLinks[j.ID+"|"+day.ISO()]; ok {
				fmt.Fprintf(&b, ` (<a href="%s">cancel this date</a>)`, link)
			}
			b.WriteString("</li>")
		}
	}
	b.WriteString("</ul>")
	return b.String()
}

func html(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
