package pesu

import (
	"fmt"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

var ErrCsrfNotFound = fmt.Errorf("csrf token not found in response")

// the portal has shipped its anti-forgery token in several different
// places over time. the tier order below matches observed site
// behavior and must not be reordered: a token found by an earlier tier
// always wins.
var csrfMetaNames = []string{"_csrf", "csrf-token", "X-CSRF-TOKEN"}

var csrfScriptRegex = regexp.MustCompile(
	`(?i)(?:_csrf|csrf[_-]?token)\W{0,5}=\s*["']([0-9a-f-]{16,})["']`,
)
var uuidRegex = regexp.MustCompile(
	`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`,
)

// extractCsrfToken scans a page for the anti-forgery token.
// 1. hidden form input named _csrf
// 2. conventional meta tags
// 3. inline script assignment
// 4. any standalone uuid-shaped substring
func extractCsrfToken(doc *goquery.Document, body string) (string, error) {
	token := doc.Find("input[name=_csrf]").AttrOr("value", "")
	if token != "" {
		return token, nil
	}

	for _, name := range csrfMetaNames {
		token = doc.Find(fmt.Sprintf("meta[name='%s']", name)).AttrOr("content", "")
		if token != "" {
			return token, nil
		}
	}

	groups := csrfScriptRegex.FindStringSubmatch(body)
	if len(groups) == 2 {
		return groups[1], nil
	}

	token = uuidRegex.FindString(body)
	if token != "" {
		return token, nil
	}

	return "", ErrCsrfNotFound
}
