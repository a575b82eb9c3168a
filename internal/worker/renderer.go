package worker

import (
	"context"
	"fmt"
	"path"

	"traffic-control-backend/internal/models"
)

// SummaryRenderer is the default AttachmentRenderer: it wraps the
// notification body in a standalone HTML document. A real PDF renderer can
// be swapped in without touching the delivery loop.
type SummaryRenderer struct{}

func (SummaryRenderer) Render(_ context.Context, n models.Notification) (string, []byte, error) {
	doc := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body>%s</body></html>`, n.Subject, n.HTML)
	return path.Base(n.AttachmentKey), []byte(doc), nil
}
