package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/maltedev/closet-scraper/internal/browser/browsertest"
	"github.com/maltedev/closet-scraper/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingURL = "https://poshmark.com/listing/Blue-Dress-1234567890"

func mockedSource(t *testing.T) (*HTTPSource, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	return NewHTTPSource(&http.Client{Transport: transport}), transport
}

func TestHTTPSource_Fetch(t *testing.T) {
	src, transport := mockedSource(t)

	var gotUA, gotLang, gotDest string
	transport.RegisterResponder("GET", listingURL, func(req *http.Request) (*http.Response, error) {
		gotUA = req.Header.Get("User-Agent")
		gotLang = req.Header.Get("Accept-Language")
		gotDest = req.Header.Get("Sec-Fetch-Dest")
		return httpmock.NewStringResponse(200, `<html><h1>Blue Dress</h1></html>`), nil
	})

	id := identity.Identity{
		UserAgent:      "ua-test",
		AcceptLanguage: "en-US,en;q=0.9",
		Headers:        identity.DocumentHeaders(),
	}

	doc, err := src.Fetch(context.Background(), listingURL, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Blue Dress", doc.Find("h1").Text())
	assert.Equal(t, "ua-test", gotUA)
	assert.Equal(t, "en-US,en;q=0.9", gotLang)
	assert.Equal(t, "document", gotDest)
}

func TestHTTPSource_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		label  string
	}{
		{http.StatusForbidden, "forbidden"},
		{http.StatusNotFound, "not_found"},
		{http.StatusGone, "not_found"},
		{http.StatusTooManyRequests, "rate_limited"},
		{http.StatusInternalServerError, "status"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			src, transport := mockedSource(t)
			transport.RegisterResponder("GET", listingURL, httpmock.NewStringResponder(tt.status, ""))

			_, err := src.Fetch(context.Background(), listingURL, identity.Identity{}, time.Second)
			require.Error(t, err)
			assert.Equal(t, tt.label, ErrorLabel(err))

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.Code)
		})
	}
}

func TestHTTPSource_TransportErrors(t *testing.T) {
	t.Run("deadline", func(t *testing.T) {
		src, transport := mockedSource(t)
		transport.RegisterResponder("GET", listingURL, httpmock.NewErrorResponder(context.DeadlineExceeded))

		_, err := src.Fetch(context.Background(), listingURL, identity.Identity{}, time.Second)
		assert.Equal(t, "timeout", ErrorLabel(err))
	})

	t.Run("unregistered url", func(t *testing.T) {
		src, _ := mockedSource(t)

		_, err := src.Fetch(context.Background(), listingURL, identity.Identity{}, time.Second)
		require.Error(t, err)
		assert.Equal(t, "other", ErrorLabel(err))
	})
}

func TestBrowserSource_Fetch(t *testing.T) {
	source := &browsertest.Source{New: func(n int) *browsertest.Page {
		return &browsertest.Page{
			HTML:   map[string]string{listingURL: `<html><h1>Rendered</h1></html>`},
			Status: map[string]int{"https://poshmark.com/listing/gone-1234567890": http.StatusNotFound},
		}
	}}
	bs := NewBrowserSource(source, "h1")

	doc, err := bs.Fetch(context.Background(), listingURL, identity.Identity{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Rendered", doc.Find("h1").Text())

	_, err = bs.Fetch(context.Background(), "https://poshmark.com/listing/gone-1234567890", identity.Identity{}, time.Second)
	assert.Equal(t, "not_found", ErrorLabel(err))

	opened := source.Opened()
	require.Len(t, opened, 2)
	for _, p := range opened {
		assert.True(t, p.Closed(), "every attempt page is closed")
	}
}

func TestBrowserSource_ReadyTimeout(t *testing.T) {
	source := &browsertest.Source{New: func(n int) *browsertest.Page {
		return &browsertest.Page{WaitErr: errors.New("h1 never appeared")}
	}}

	_, err := NewBrowserSource(source, "h1").Fetch(context.Background(), listingURL, identity.Identity{}, time.Second)
	assert.Equal(t, "timeout", ErrorLabel(err))
}
