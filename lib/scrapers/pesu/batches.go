package pesu

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"attendance-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

// Batch is one selectable cohort/term option on the portal. The label
// is only kept for diagnostics, the id is what the report request needs.
type Batch struct {
	Id    string
	Label string
}

var numericIdRegex = regexp.MustCompile(`\d+`)

// ResolveBatchIds produces the ordered list of batch class ids to try.
// Configured candidates are returned unchanged: their order is the
// priority order for which report the caller most likely wants first.
// With no configured candidates it falls back to querying the portal's
// semester listing on the authenticated session.
func (c *Client) ResolveBatchIds(ctx context.Context, configured []int) ([]string, error) {
	if len(configured) > 0 {
		ids := make([]string, len(configured))
		for i, id := range configured {
			ids[i] = strconv.Itoa(id)
		}
		return ids, nil
	}

	if c.discoveredBatches == nil {
		batches, err := c.discoverBatches(ctx)
		if err != nil {
			return nil, err
		}
		if batches == nil {
			batches = []Batch{}
		}
		c.discoveredBatches = batches
		c.DiscoverySuggestion = formatDiscoverySuggestion(batches)
	}

	if len(c.discoveredBatches) == 0 {
		return nil, fmt.Errorf("no batch class ids configured and none discoverable on the portal")
	}

	ids := make([]string, len(c.discoveredBatches))
	for i, b := range c.discoveredBatches {
		ids[i] = b.Id
	}
	slog.InfoContext(ctx, "using auto-discovered batch class ids", "ids", ids)
	return ids, nil
}

// DiscoveredBatches reports any batches found by runtime discovery.
func (c *Client) DiscoveredBatches() []Batch {
	return c.discoveredBatches
}

func (c *Client) discoverBatches(ctx context.Context) ([]Batch, error) {
	ctx, span := tracer.Start(ctx, "client:discoverBatches")
	defer span.End()

	slog.InfoContext(ctx, "no configured batch class ids, querying semester listing")

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("x-requested-with", "XMLHttpRequest").
		Get(semestersPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch semester listing")
		return nil, fmt.Errorf("semester discovery failed: %w", err)
	}
	if res.IsError() {
		span.SetStatus(codes.Error, "semester listing returned an error status")
		return nil, fmt.Errorf("semester discovery returned status %d", res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse semester listing")
		return nil, fmt.Errorf("malformed semester listing: %w", err)
	}

	var batches []Batch
	for _, opt := range htmlutil.GetSelectOptions(doc) {
		id := numericIdRegex.FindString(opt.Value)
		if id == "" {
			continue
		}
		batches = append(batches, Batch{Id: id, Label: opt.Label})
		slog.DebugContext(ctx, "discovered batch", "id", id, "label", opt.Label)
	}
	return batches, nil
}

func formatDiscoverySuggestion(batches []Batch) string {
	if len(batches) == 0 {
		return ""
	}
	var entries []string
	for _, b := range batches {
		if b.Label != "" {
			entries = append(entries, fmt.Sprintf("%s (%s)", b.Id, b.Label))
			continue
		}
		entries = append(entries, b.Id)
	}
	return fmt.Sprintf(
		"no batch class ids are configured for this branch, the portal offered: %s. consider adding the working id to mappings.json5",
		strings.Join(entries, ", "),
	)
}
