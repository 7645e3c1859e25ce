package attendance

import (
	"math"
	"strconv"
	"strings"

	"attendance-backend/lib/scrapers/pesu"
)

// Record is one subject's attendance, normalized for clients. Counts
// and percentage are nil (not zero) when the portal reports "NA" or a
// ratio we cannot parse: "NA" means the subject has no tracked classes
// yet, which is very different from zero attendance.
type Record struct {
	Subject    string   `json:"subject"`
	RawRatio   string   `json:"raw_ratio"`
	Attended   *int     `json:"attended"`
	Total      *int     `json:"total"`
	Percentage *float64 `json:"percentage"`
	Bunkable   *int     `json:"bunkable"`
}

// FormatRows normalizes raw table rows into Records, mapping subject
// codes to display names and deriving percentage and bunkable counts.
func FormatRows(rows []pesu.Row, subjectNames map[string]string, threshold int) []Record {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		subject := row.SubjectCode()
		if name, ok := subjectNames[subject]; ok {
			subject = name
		}

		record := Record{
			Subject:  subject,
			RawRatio: row.Ratio(),
		}

		attended, total, ok := parseRatio(row.Ratio())
		if ok {
			record.Attended = &attended
			record.Total = &total
			if total > 0 {
				percentage := roundTwoPlaces(float64(attended) / float64(total) * 100)
				record.Percentage = &percentage
			}
			bunkable := Bunkable(attended, total, threshold)
			record.Bunkable = &bunkable
		}

		records = append(records, record)
	}
	return records
}

// parseRatio splits an "attended/total" cell. "NA" and malformed cells
// report ok=false rather than an error, the row is still kept.
func parseRatio(raw string) (attended, total int, ok bool) {
	parts := strings.Split(raw, "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	attended, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return attended, total, true
}

func roundTwoPlaces(v float64) float64 {
	return math.Round(v*100) / 100
}

// Bunkable is the largest k >= 0 such that attending no further
// classes out of the next k keeps attended/(total+k) at or above the
// threshold percentage. Zero when total is zero or attendance is
// already below the threshold.
func Bunkable(attended, total, threshold int) int {
	if total <= 0 || threshold <= 0 {
		return 0
	}
	// attended*100 >= threshold*(total+k)  <=>  k <= attended*100/threshold - total
	k := (attended*100)/threshold - total
	if k < 0 {
		return 0
	}
	return k
}
