package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
)

func parseDoc(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestCleanText(t *testing.T) {
	doc := parseDoc(t, `<td>  UE23CS351A
		<span>Software   Engineering</span> </td>`)
	got := CleanText(doc.Find("td"))
	want := "UE23CS351A Software Engineering"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGetSelectOptions(t *testing.T) {
	doc := parseDoc(t, `
		<select name="semester">
			<option value="2660">Sem-5</option>
			<option value="2661">Sem-6</option>
			<option value="">Select</option>
		</select>`)

	got := GetSelectOptions(doc)
	want := []SelectOption{
		{Value: "2660", Label: "Sem-5"},
		{Value: "2661", Label: "Sem-6"},
		{Value: "", Label: "Select"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
}
