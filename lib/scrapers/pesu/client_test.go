package pesu

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testUsername       = "PES2UG23CS123"
	testPassword       = "hunter2"
	landingCsrfToken   = "1f2e3d4c-0a1b-4c2d-8e3f-a4b5c6d7e8f9"
	dashboardCsrfToken = "9f8e7d6c-5b4a-4d3c-b2a1-0f1e2d3c4b5a"
)

// fakePortal mimics the portal's login handshake, semester listing and
// attendance report endpoints closely enough to exercise the client.
type fakePortal struct {
	t *testing.T

	// batch class id -> attendance table rows rendered for it
	reports map[string]string
	// semester listing html, empty means a page with no options
	semesters string

	reportRequests []string
	loggedIn       bool
	loggedOut      bool
}

func (p *fakePortal) loginPage(w http.ResponseWriter) {
	fmt.Fprintf(w, `<html><body>
		<form action="/j_spring_security_check" method="post">
			<input type="text" name="j_username"/>
			<input type="password" name="j_password"/>
			<input type="hidden" name="_csrf" value="%s"/>
			<input type="hidden" name="loginMode" value="web"/>
		</form>
	</body></html>`, landingCsrfToken)
}

func (p *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		p.loginPage(w)
	})

	mux.HandleFunc("POST /j_spring_security_check", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(p.t, r.ParseForm())
		require.Equal(p.t, landingCsrfToken, r.PostFormValue("_csrf"))
		require.Equal(p.t, "web", r.PostFormValue("loginMode"))

		if r.PostFormValue("j_username") != testUsername ||
			r.PostFormValue("j_password") != testPassword {
			fmt.Fprint(w, `<html><body>
				<div class="error">Invalid username or password</div>
				<form action="/j_spring_security_check">
					<input type="text" name="j_username"/>
					<input type="password" name="j_password"/>
				</form>
			</body></html>`)
			return
		}
		p.loggedIn = true
		http.Redirect(w, r, "/s/studentProfilePESU", http.StatusFound)
	})

	mux.HandleFunc("GET /s/studentProfilePESU", func(w http.ResponseWriter, r *http.Request) {
		if !p.loggedIn {
			p.loginPage(w)
			return
		}
		fmt.Fprintf(w, `<html><body>
			<h1>Student Profile</h1>
			<input type="hidden" name="_csrf" value="%s"/>
		</body></html>`, dashboardCsrfToken)
	})

	mux.HandleFunc("POST /s/studentProfilePESUAdmin", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(p.t, r.ParseForm())
		require.Equal(p.t, dashboardCsrfToken, r.PostFormValue("_csrf"))
		require.Equal(p.t, "2", r.PostFormValue("controllerMode"))
		require.Equal(p.t, "8", r.PostFormValue("actionType"))
		require.Equal(p.t, "660", r.PostFormValue("menuId"))

		batchId := r.PostFormValue("batchClassId")
		p.reportRequests = append(p.reportRequests, batchId)

		rows, ok := p.reports[batchId]
		if !ok {
			fmt.Fprint(w, `<html><body><p>No records found</p></body></html>`)
			return
		}
		fmt.Fprintf(w, `<html><body>
			<table class="table">
				<thead><tr><th>Code</th><th>Course</th><th>Attendance</th></tr></thead>
				<tbody>%s</tbody>
			</table>
		</body></html>`, rows)
	})

	mux.HandleFunc("GET /a/studentProfilePESU/getStudentSemesters", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(p.t, "XMLHttpRequest", r.Header.Get("x-requested-with"))
		fmt.Fprintf(w, `<html><body><select name="semester">%s</select></body></html>`, p.semesters)
	})

	mux.HandleFunc("GET /logout", func(w http.ResponseWriter, r *http.Request) {
		p.loggedIn = false
		p.loggedOut = true
		p.loginPage(w)
	})

	return mux
}

func setupPortal(t *testing.T, portal *fakePortal) *Client {
	t.Helper()
	portal.t = t

	server := httptest.NewServer(portal.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), ClientOptions{
		BaseUrl: server.URL,
		Report: ReportParams{
			ControllerMode: 2,
			ActionType:     8,
			MenuId:         660,
		},
	})
	require.NoError(t, err)
	return client
}

func TestLoginSuccess(t *testing.T) {
	client := setupPortal(t, &fakePortal{})

	err := client.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	require.Equal(t, StateAuthenticated, client.State())
}

func TestLoginInvalidCredentials(t *testing.T) {
	client := setupPortal(t, &fakePortal{})

	err := client.Login(context.Background(), testUsername, "wrong")
	require.Error(t, err)

	var authError *AuthenticationError
	require.ErrorAs(t, err, &authError)
	require.Equal(t, StateValidationFailed, client.State())
}

func TestLogoutIsBestEffort(t *testing.T) {
	portal := &fakePortal{}
	client := setupPortal(t, portal)

	err := client.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	client.Logout(context.Background())
	require.True(t, portal.loggedOut)
	require.Equal(t, StateLoggedOut, client.State())
}
