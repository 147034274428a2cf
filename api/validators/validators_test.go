package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

type sampleBody struct {
	Token  string `json:"attempt_token" validate:"required,max=16,token"`
	Amount int    `json:"amount" validate:"gte=0,lte=10"`
}

func request(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBodyAcceptsValidObject(t *testing.T) {
	var dest sampleBody
	require.NoError(t, DecodeJSONBody(request(`{"attempt_token":"abc_123-x","amount":3}`), &dest))
	assert.Equal(t, "abc_123-x", dest.Token)
	assert.Equal(t, 3, dest.Amount)
}

func TestDecodeJSONBodyRejections(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"unknown field": `{"attempt_token":"a","extra":1}`,
		"trailing data": `{"attempt_token":"a"}{"attempt_token":"b"}`,
		"bad token":     `{"attempt_token":"has space"}`,
		"out of range":  `{"attempt_token":"a","amount":11}`,
		"missing token": `{"amount":1}`,
		"too large":     `{"attempt_token":"` + strings.Repeat("a", MaxJSONBodyBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var dest sampleBody
			err := DecodeJSONBody(request(body), &dest)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestValidationDetailsUseJSONNames(t *testing.T) {
	var dest sampleBody
	err := DecodeJSONBody(request(`{"attempt_token":"bad token!"}`), &dest)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "attempt_token")
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "jam on tray 2", SanitizeString("  jam\non\ttray 2 \n", 0))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
	// A two-byte rune straddling the limit is dropped whole.
	assert.Equal(t, "ab", SanitizeString("abé", 3))
	assert.Equal(t, "", SanitizeString("   ", 10))
}

func TestParseQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=7&bad=x&big=99", nil)
	v, err := ParseQueryInt(r, "limit", 10, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = ParseQueryInt(r, "missing", 10, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = ParseQueryInt(r, "bad", 10, 1, 50)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = ParseQueryInt(r, "big", 10, 1, 50)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryIntCases(t *testing.T) {
	cases := []struct {
		name    string
		query   string
		want    int
		wantErr string
	}{
		{name: "absent uses default", query: "", want: 50},
		{name: "in range", query: "limit=7", want: 7},
		{name: "not numeric", query: "limit=seven", wantErr: "numeric"},
		{name: "above max", query: "limit=201", wantErr: "out of range"},
		{name: "repeated", query: "limit=1&limit=2", wantErr: "more than once"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
			got, err := ParseQueryInt(r, "limit", 50, 1, 200)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.ErrorContains(t, err, tc.wantErr)
				assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseQueryStringCapsLength(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?cursor="+strings.Repeat("a", 9), nil)
	_, err := ParseQueryString(r, "cursor", 8)
	assert.ErrorContains(t, err, "too long")

	r = httptest.NewRequest(http.MethodGet, "/?cursor=abc", nil)
	got, err := ParseQueryString(r, "cursor", 8)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestParsePathUUID(t *testing.T) {
	id := uuid.New()
	var (
		got    uuid.UUID
		gotErr error
	)
	router := chi.NewRouter()
	router.Get("/jobs/{jobId}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = ParsePathUUID(r, "jobId")
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/"+id.String(), nil))
	require.NoError(t, gotErr)
	assert.Equal(t, id, got)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.Nil.String(), nil))
	assert.True(t, pkgerrors.IsCode(gotErr, pkgerrors.CodeValidation))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/nope", nil))
	assert.ErrorContains(t, gotErr, "invalid jobId")
}
