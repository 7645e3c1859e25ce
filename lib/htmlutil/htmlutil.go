package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText produces the trimmed, whitespace-collapsed text content of
// a selection, the way a browser would render a table cell.
func CleanText(sel *goquery.Selection) string {
	text := sel.Text()
	text = removeNonPrintable(text)
	text = strings.Trim(text, " \t\n")
	return innerWhitespace.ReplaceAllString(text, " ")
}

type SelectOption struct {
	Value string
	Label string
}

// GetSelectOptions extracts the options of every <select> element in
// the document, preserving document order.
func GetSelectOptions(doc *goquery.Document) []SelectOption {
	var options []SelectOption
	doc.Find("select option").Each(func(_ int, opt *goquery.Selection) {
		options = append(options, SelectOption{
			Value: opt.AttrOr("value", ""),
			Label: CleanText(opt),
		})
	})
	return options
}
