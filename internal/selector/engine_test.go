// internal/selector/engine_test.go
package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

const loginPage = `<!DOCTYPE html>
<html><head><title>Login</title><script>var x = "Sign in";</script></head>
<body>
  <div id="cookie-banner" class="banner">
    <p>We use cookies.</p>
    <button class="accept">Accept all</button>
  </div>
  <form id="login">
    <input type="text" name="username" placeholder="User">
    <input type="password" name="password">
    <input type="hidden" name="csrf" value="tok">
    <button type="submit" data-role="primary">Sign in</button>
    <button type="button" data-role="secondary">Sign in with SSO</button>
  </form>
  <a href="/help" style="display: none">Help</a>
  <div hidden><button>Ghost</button></div>
  <ul><li>Item 1</li><li>Item 2</li><li>user-42</li></ul>
</body></html>`

type staticPages map[int]ElementSource

func (p staticPages) Elements(_ context.Context, pageIndex int) (ElementSource, error) {
	src, ok := p[pageIndex]
	if !ok {
		return nil, errors.New("no such page")
	}
	return src, nil
}

type fakeData map[string]schemas.Scalar

func (d fakeData) Get(_ context.Context, key string) (schemas.Scalar, error) {
	if key == "broken.key" {
		return nil, errors.New("boom")
	}
	return d[key], nil
}

func (d fakeData) ResolveSpecialString(_ context.Context, s string) string {
	if s == "{{acc.user}}" {
		return schemas.ScalarString(d["acc.user"])
	}
	return s
}

func newTestEngine(t *testing.T, data Data) *Engine {
	t.Helper()
	src, err := NewHTMLSourceString(loginPage)
	require.NoError(t, err)
	return NewEngine(staticPages{0: src}, data, zap.NewNop())
}

func TestGetElementHandle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, fakeData{"acc.user": "user-42"})

	tests := map[string]struct {
		selectors schemas.Selectors
		wantTag   string
		wantText  string
		wantNil   bool
		wantErr   error
	}{
		"css query": {
			selectors: schemas.Selectors{schemas.Query{Query: "#cookie-banner .accept"}},
			wantTag:   "button", wantText: "Accept all",
		},
		"order independent": {
			selectors: schemas.Selectors{
				schemas.TextContent{Text: schemas.LiteralMatcher("Sign in")},
				schemas.TagName{TagName: "BUTTON"},
			},
			wantTag: "button", wantText: "Sign in",
		},
		"attributes narrow a query": {
			selectors: schemas.Selectors{
				schemas.Attributes{Attributes: map[string]schemas.Matcher{"data-role": schemas.LiteralMatcher("secondary")}},
				schemas.Query{Query: "form button"},
			},
			wantText: "Sign in with SSO",
		},
		"queries combine": {
			selectors: schemas.Selectors{
				schemas.Query{Query: "#login button"},
				schemas.Query{Query: "[data-role=primary]"},
			},
			wantTag: "button", wantText: "Sign in",
		},
		"disjoint queries": {
			selectors: schemas.Selectors{
				schemas.Query{Query: "#cookie-banner button"},
				schemas.Query{Query: "#login button"},
			},
			wantNil: true,
		},
		"regex text": {
			selectors: schemas.Selectors{
				schemas.TagName{TagName: "li"},
				schemas.TextContent{Text: schemas.RegexMatcher(`^item 2$`, "i")},
			},
			wantText: "Item 2",
		},
		"special string in text": {
			selectors: schemas.Selectors{schemas.TextContent{Text: schemas.LiteralMatcher("{{acc.user}}")}, schemas.TagName{TagName: "li"}},
			wantText:  "user-42",
		},
		"ambiguous": {
			selectors: schemas.Selectors{schemas.TagName{TagName: "li"}},
			wantErr:   ErrAmbiguousSelector,
		},
		"hidden by style": {
			selectors: schemas.Selectors{schemas.Query{Query: "a[href='/help']"}},
			wantNil:   true,
		},
		"hidden ancestor": {
			selectors: schemas.Selectors{schemas.TextContent{Text: schemas.LiteralMatcher("Ghost")}, schemas.TagName{TagName: "button"}},
			wantNil:   true,
		},
		"hidden input": {
			selectors: schemas.Selectors{schemas.Attributes{Attributes: map[string]schemas.Matcher{"name": schemas.LiteralMatcher("csrf")}}},
			wantNil:   true,
		},
		"script text is never visible": {
			selectors: schemas.Selectors{schemas.TagName{TagName: "script"}},
			wantNil:   true,
		},
		"invalid css": {
			selectors: schemas.Selectors{schemas.Query{Query: "div[["}},
			wantErr:   errors.New("invalid css"),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h, err := e.GetElementHandle(ctx, tt.selectors, 0, false)
			switch {
			case tt.wantErr != nil && errors.Is(tt.wantErr, ErrAmbiguousSelector):
				assert.ErrorIs(t, err, ErrAmbiguousSelector)
				assert.Nil(t, h)
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr.Error())
			case tt.wantNil:
				require.NoError(t, err)
				assert.Nil(t, h)
			default:
				require.NoError(t, err)
				require.NotNil(t, h)
				if tt.wantTag != "" {
					assert.Equal(t, tt.wantTag, h.Element.Tag)
				}
				assert.Equal(t, tt.wantText, h.Element.Text)
				assert.NotEmpty(t, h.Ref())
			}
		})
	}
}

func TestGetElementHandle_Required(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	_, err := e.GetElementHandle(ctx, schemas.Selectors{schemas.Query{Query: "#nope"}}, 0, true)
	assert.ErrorIs(t, err, ErrElementNotFound)

	_, err = e.GetElementHandle(ctx, schemas.Selectors{schemas.TagName{TagName: "li"}}, 0, true)
	assert.ErrorIs(t, err, ErrAmbiguousSelector, "ambiguity wins over required")

	_, err = e.GetElementHandle(ctx, schemas.Selectors{schemas.TagName{TagName: "li"}}, 3, false)
	assert.Error(t, err, "unknown page")

	_, err = e.GetElementHandle(ctx, nil, 0, false)
	assert.Error(t, err)
}

func TestHTMLSource_RefsAreStable(t *testing.T) {
	src, err := NewHTMLSourceString(loginPage)
	require.NoError(t, err)

	els, err := src.Query(context.Background(), "#login button")
	require.NoError(t, err)
	require.Len(t, els, 2)
	again, err := src.Query(context.Background(), "button[data-role]")
	require.NoError(t, err)
	assert.Equal(t, els[0].Ref, again[0].Ref)
	assert.Equal(t, "Sign in", src.Selection(els[0].Ref).Text())
}

func TestResolveValue(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, fakeData{"acc.user": "user-42", "acc.age": float64(7)})
	e.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	tests := map[string]struct {
		value schemas.ScraperValue
		want  schemas.Scalar
	}{
		"literal":            {schemas.Literal{Value: "plain"}, "plain"},
		"literal number":     {schemas.Literal{Value: float64(3)}, float64(3)},
		"literal special":    {schemas.Literal{Value: "{{acc.user}}"}, "user-42"},
		"null":               {schemas.Null{}, nil},
		"timestamp":          {schemas.CurrentTimestamp{}, "2024-03-01T12:00:00Z"},
		"external":           {schemas.ExternalData{DataKey: "acc.age"}, float64(7)},
		"external default":   {schemas.ExternalData{DataKey: "acc.missing", DefaultValue: "d"}, "d"},
		"element text":       {schemas.ElementTextContent{Selectors: schemas.Selectors{schemas.Query{Query: "#cookie-banner p"}}}, "We use cookies."},
		"element attribute":  {schemas.ElementAttribute{Selectors: schemas.Selectors{schemas.Query{Query: "input[name=username]"}}, AttributeName: "placeholder"}, "User"},
		"missing attribute":  {schemas.ElementAttribute{Selectors: schemas.Selectors{schemas.Query{Query: "input[name=username]"}}, AttributeName: "nope"}, nil},
		"missing element":    {schemas.ElementTextContent{Selectors: schemas.Selectors{schemas.Query{Query: "#nope"}}}, nil},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := e.ResolveValue(ctx, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := e.ResolveValue(ctx, schemas.ExternalData{DataKey: "broken.key"})
	assert.Error(t, err)
}
