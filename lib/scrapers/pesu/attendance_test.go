package pesu

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestFetchAttendanceFirstCandidateWins(t *testing.T) {
	portal := &fakePortal{
		reports: map[string]string{
			"102": `
				<tr><td>UE23CS341A</td><td>Software Engineering</td><td>18/20</td></tr>
				<tr><td>UE23CS342B</td><td>Compiler Design</td><td>12/16</td></tr>
				<tr><td>UE23CS343C</td><td>Cloud Computing</td><td>NA</td></tr>`,
		},
	}
	client := setupPortal(t, portal)

	err := client.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	rows, err := client.FetchAttendance(context.Background(), []string{"101", "102", "103"})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// 101 yields nothing, 102 yields rows, 103 must never be tried
	require.Equal(t, []string{"101", "102"}, portal.reportRequests)
}

func TestFetchAttendanceNoData(t *testing.T) {
	client := setupPortal(t, &fakePortal{})

	err := client.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	rows, err := client.FetchAttendance(context.Background(), []string{"101"})
	require.NoError(t, err)
	require.Nil(t, rows)
}

func TestFetchAttendanceRequiresLogin(t *testing.T) {
	client := setupPortal(t, &fakePortal{})

	_, err := client.FetchAttendance(context.Background(), []string{"101"})
	require.Error(t, err)
}

func TestParseAttendanceTable(t *testing.T) {
	rows, err := parseAttendanceTable([]byte(`<html><body>
		<table class="table"><tbody>
			<tr><td>UE23CS341A</td><td>Software Engineering</td><td>18/20</td><td>90%</td></tr>
			<tr><td></td><td>orphaned row</td><td>1/2</td></tr>
			<tr><td>lonely</td></tr>
			<tr><td>UE23CS343C</td><td>Cloud Computing</td><td>NA</td></tr>
		</tbody></table>
	</body></html>`))
	require.NoError(t, err)

	want := []Row{
		{"UE23CS341A", "Software Engineering", "18/20", "90%"},
		{"UE23CS343C", "Cloud Computing", "NA"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}

	require.False(t, rows[0].NotApplicable())
	require.True(t, rows[1].NotApplicable())
}

func TestParseAttendanceTableMissing(t *testing.T) {
	rows, err := parseAttendanceTable([]byte(`<html><body><p>nothing</p></body></html>`))
	require.NoError(t, err)
	require.Nil(t, rows)

	rows, err = parseAttendanceTable([]byte(`<html><body><table class="table"></table></body></html>`))
	require.NoError(t, err)
	require.Nil(t, rows)
}

func TestResolveBatchIdsConfiguredPassthrough(t *testing.T) {
	client := setupPortal(t, &fakePortal{})

	ids, err := client.ResolveBatchIds(context.Background(), []int{2660, 2500, 2661})
	require.NoError(t, err)
	require.Equal(t, []string{"2660", "2500", "2661"}, ids)
}

func TestResolveBatchIdsDiscovery(t *testing.T) {
	portal := &fakePortal{
		semesters: `
			<option value="">Select semester</option>
			<option value="semid_2660">Sem-5</option>
			<option value="semid_2661">Sem-6</option>`,
	}
	client := setupPortal(t, portal)

	err := client.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	ids, err := client.ResolveBatchIds(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"2660", "2661"}, ids)
	require.Contains(t, client.DiscoverySuggestion, "2660 (Sem-5)")

	// discovered ids survive for the session and are not re-fetched
	again, err := client.ResolveBatchIds(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, ids, again)
}

func TestResolveBatchIdsDiscoveryEmpty(t *testing.T) {
	client := setupPortal(t, &fakePortal{})

	err := client.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	_, err = client.ResolveBatchIds(context.Background(), nil)
	require.Error(t, err)
}
