package pesu

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"attendance-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

// Row is the raw, trimmed cell text of one attendance table row:
// subject code, course name, "attended/total" (or "NA"), and whatever
// trailing cells the portal decides to render that term.
type Row []string

func (r Row) SubjectCode() string {
	if len(r) == 0 {
		return ""
	}
	return r[0]
}

func (r Row) CourseName() string {
	if len(r) < 2 {
		return ""
	}
	return r[1]
}

// Ratio returns the attended/total cell, or "NA" when the portal has
// not started tracking the subject yet.
func (r Row) Ratio() string {
	if len(r) < 3 {
		return ""
	}
	return r[2]
}

// rows with a ratio of exactly "NA" are retained but flagged: "NA"
// means "not yet applicable", not "zero classes", and dropping them
// would silently hide subjects from the caller.
func (r Row) NotApplicable() bool {
	return r.Ratio() == "NA"
}

// FetchAttendance tries each candidate batch class id in order and
// returns the rows of the first report that yields data. Later
// candidates are never tried once one succeeds. A nil result with a
// nil error means no candidate had any data.
func (c *Client) FetchAttendance(ctx context.Context, batchIds []string) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "client:FetchAttendance")
	defer span.End()

	if c.state != StateAuthenticated {
		err := fmt.Errorf("attendance requested on an unauthenticated session")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// the report endpoint wants a token from the authenticated
	// dashboard, the login-page token is stale by now
	res, err := c.Http.R().
		SetContext(ctx).
		Get(profilePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch dashboard")
		return nil, fmt.Errorf("failed to fetch dashboard: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse dashboard html")
		return nil, fmt.Errorf("malformed dashboard page: %w", err)
	}
	token, err := extractCsrfToken(doc, res.String())
	if err != nil {
		span.SetStatus(codes.Error, "failed to find dashboard csrf token")
		return nil, err
	}
	c.csrfToken = token

	for _, batchId := range batchIds {
		rows := c.fetchBatchReport(ctx, batchId)
		if len(rows) > 0 {
			slog.InfoContext(ctx, "retrieved attendance data", "batch_class_id", batchId, "rows", len(rows))
			return rows, nil
		}
	}

	slog.WarnContext(ctx, "no attendance data found for any batch class id", "tried", len(batchIds))
	return nil, nil
}

// per-candidate failures are recovered locally: log and move on to the
// next candidate, never escalate.
func (c *Client) fetchBatchReport(ctx context.Context, batchId string) []Row {
	ctx, span := tracer.Start(ctx, "client:fetchBatchReport")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"controllerMode": strconv.Itoa(c.report.ControllerMode),
			"actionType":     strconv.Itoa(c.report.ActionType),
			"menuId":         strconv.Itoa(c.report.MenuId),
			"batchClassId":   batchId,
			"_csrf":          c.csrfToken,
		}).
		Post(reportPath)
	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "network error fetching batch report", "batch_class_id", batchId, "err", err)
		return nil
	}
	if res.IsError() {
		slog.ErrorContext(ctx, "batch report returned an error status", "batch_class_id", batchId, "status", res.StatusCode())
		return nil
	}

	rows, err := parseAttendanceTable(res.Body())
	if err != nil {
		slog.WarnContext(ctx, "failed to parse attendance report", "batch_class_id", batchId, "err", err)
		return nil
	}
	return rows
}

// parseAttendanceTable extracts valid rows from the report html. A
// missing table or table body is soft-failed with a nil result, it
// just means this candidate has nothing to offer.
func parseAttendanceTable(body []byte) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	table := doc.Find("table.table").First()
	if table.Length() == 0 {
		slog.Warn("no attendance table found in response")
		return nil, nil
	}
	tbody := table.Find("tbody").First()
	if tbody.Length() == 0 {
		slog.Warn("no table body found in attendance table")
		return nil, nil
	}

	var rows []Row
	tbody.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var row Row
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			row = append(row, htmlutil.CleanText(td))
		})
		if len(row) < 2 || row.SubjectCode() == "" {
			return
		}
		rows = append(rows, row)
	})
	return rows, nil
}
