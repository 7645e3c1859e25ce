package pesu

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"attendance-backend/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/pesu")

const (
	loginActionPath = "/j_spring_security_check"
	profilePath     = "/s/studentProfilePESU"
	reportPath      = "/s/studentProfilePESUAdmin"
	semestersPath   = "/a/studentProfilePESU/getStudentSemesters"
	logoutPath      = "/logout"
)

// session lifecycle states. transitions only ever move forward:
// Unauthenticated -> Authenticating -> Authenticated -> LoggedOut,
// with ValidationFailed as the terminal failure state of login.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticating
	StateAuthenticated
	StateValidationFailed
	StateLoggedOut
)

// ReportParams are the opaque protocol constants the portal requires on
// the attendance report request. They vary by cohort and change across
// terms, which is why they live in configuration rather than code.
type ReportParams struct {
	ControllerMode int
	ActionType     int
	MenuId         int
}

type ClientOptions struct {
	BaseUrl string
	Report  ReportParams
}

// Client owns one authenticated portal session: an http client with a
// persistent cookie jar, the current csrf token and any batch ids
// discovered at runtime. A Client must not be shared across requests.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	report    ReportParams
	state     SessionState
	csrfToken string

	// set once by batch discovery, never overwritten for the
	// lifetime of the session
	discoveredBatches []Batch
	// operator-facing hint produced alongside discovery
	DiscoverySuggestion string
}

var restyOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(output restyutil.InstrumentOutput) {
	restyOutput = output
}

type proxyOutput struct{}

func (proxyOutput) Write(id string, contents string) {
	if restyOutput != nil {
		restyOutput.Write(id, contents)
	}
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	restyutil.InstrumentClient(client, tracer, proxyOutput{})

	return &Client{
		BaseUrl: baseUrl,
		Http:    client,
		report:  opts.Report,
		state:   StateUnauthenticated,
	}, nil
}

func (c *Client) State() SessionState {
	return c.state
}

// loginForm is what the landing page heuristics recovered: where to
// submit credentials and which hidden fields must be echoed back.
type loginForm struct {
	action string
	hidden map[string]string
}

func findLoginForm(doc *goquery.Document) loginForm {
	form := loginForm{
		action: loginActionPath,
		hidden: map[string]string{},
	}

	var found *goquery.Selection
	doc.Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		if f.Find("input[name=j_username], input[name*=user], input[type=email]").Length() == 0 {
			return true
		}
		found = f
		return false
	})
	if found == nil {
		return form
	}

	if action := found.AttrOr("action", ""); action != "" {
		form.action = action
	}
	found.Find("input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" || name == "_csrf" {
			return
		}
		form.hidden[name] = input.AttrOr("value", "")
	})
	return form
}

func authErr(format string, args ...any) error {
	return &AuthenticationError{cause: fmt.Errorf(format, args...)}
}

func netAuthErr(format string, args ...any) error {
	return &AuthenticationError{cause: fmt.Errorf(format, args...), Network: true}
}

// AuthenticationError covers bad credentials, missing csrf tokens,
// login validation failures and network failures during the handshake.
// Network failures are flagged: they are the portal's fault, not the
// caller's, and map to a different status at the API edge.
type AuthenticationError struct {
	cause error

	Network bool
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.cause)
}

func (e *AuthenticationError) Unwrap() error {
	return e.cause
}

// Login drives the handshake against the portal: fetch the landing
// page, recover the login form and csrf token, submit credentials and
// validate that the session is actually authenticated.
func (c *Client) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	c.state = StateAuthenticating
	slog.InfoContext(ctx, "initiating authentication process")

	res, err := c.Http.R().
		SetContext(ctx).
		Get("/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch landing page")
		c.state = StateValidationFailed
		return netAuthErr("network error during authentication: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse landing page html")
		c.state = StateValidationFailed
		return authErr("malformed landing page: %w", err)
	}

	form := findLoginForm(doc)
	token, err := c.findLoginToken(doc, res)
	if err != nil {
		span.SetStatus(codes.Error, "failed to find csrf token")
		c.state = StateValidationFailed
		return &AuthenticationError{cause: err}
	}
	c.csrfToken = token

	formData := map[string]string{
		"j_username": username,
		"j_password": password,
		"_csrf":      token,
	}
	for name, value := range form.hidden {
		formData[name] = value
	}

	res, err = c.Http.R().
		SetContext(ctx).
		SetFormData(formData).
		Post(form.action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit login form")
		c.state = StateValidationFailed
		return netAuthErr("network error during authentication: %w", err)
	}
	if res.IsError() {
		span.SetStatus(codes.Error, "login submission returned an error status")
		c.state = StateValidationFailed
		return authErr("login submission failed with status %d", res.StatusCode())
	}

	err = c.validateLogin(ctx, res)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.state = StateValidationFailed
		return err
	}

	c.state = StateAuthenticated
	slog.InfoContext(ctx, "authentication successful")
	return nil
}

// the token embedded in the discovered form wins over a page-wide scan,
// which wins over a cookie-derived value.
func (c *Client) findLoginToken(doc *goquery.Document, res *resty.Response) (string, error) {
	token, err := extractCsrfToken(doc, res.String())
	if err == nil {
		return token, nil
	}
	for _, cookie := range res.Cookies() {
		switch cookie.Name {
		case "XSRF-TOKEN", "CSRF-TOKEN":
			return cookie.Value, nil
		}
	}
	return "", err
}

var invalidCredentialMarkers = []string{
	"invalid credentials",
	"bad credentials",
	"invalid username or password",
}

func looksLikeLoginPage(doc *goquery.Document) bool {
	return doc.Find("input[name=j_username], input[type=password]").Length() > 0
}

func (c *Client) validateLogin(ctx context.Context, loginRes *resty.Response) error {
	body := strings.ToLower(loginRes.String())
	for _, marker := range invalidCredentialMarkers {
		if strings.Contains(body, marker) {
			return authErr("invalid credentials")
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(loginRes.Body()))
	if err == nil && !looksLikeLoginPage(doc) && len(loginRes.Body()) > 0 {
		return nil
	}

	// ambiguous response body, confirm by probing a protected page:
	// an unauthenticated session gets bounced back to the login form
	res, err := c.Http.R().
		SetContext(ctx).
		Get(profilePath)
	if err != nil {
		return netAuthErr("failed to validate authentication: %w", err)
	}
	if res.IsError() {
		return authErr("profile page returned status %d", res.StatusCode())
	}
	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return authErr("malformed profile page: %w", err)
	}
	if looksLikeLoginPage(doc) {
		return authErr("invalid credentials")
	}
	return nil
}

// Logout is best-effort: a failed logout is logged but never surfaced,
// it must not mask a scrape that already succeeded.
func (c *Client) Logout(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "client:Logout")
	defer span.End()

	_, err := c.Http.R().
		SetContext(ctx).
		Get(logoutPath)
	if err != nil {
		slog.WarnContext(ctx, "error during logout", "err", err)
		span.RecordError(err)
		return
	}
	c.state = StateLoggedOut
	slog.InfoContext(ctx, "session terminated successfully")
}
