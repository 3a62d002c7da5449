package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("goal 7: %w", ErrNotFound): http.StatusNotFound,
		ErrConflict:                            http.StatusConflict,
		ErrValidation:                          http.StatusUnprocessableEntity,
		ErrForbidden:                           http.StatusForbidden,
		ErrUnauthorized:                        http.StatusUnauthorized,
		fmt.Errorf("pg down"):                  http.StatusInternalServerError,
	}
	for err, want := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, err)
		assert.Equal(t, want, rr.Code, err.Error())
		assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("dial tcp 10.0.0.5:5432"))
	assert.NotContains(t, rr.Body.String(), "10.0.0.5")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	require.Error(t, DecodeJSON(req, &target))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	require.NoError(t, DecodeJSON(req, &target))
	assert.Equal(t, "a", target.Name)
}

func TestSeeOther(t *testing.T) {
	rr := httptest.NewRecorder()
	SeeOther(rr, httptest.NewRequest(http.MethodGet, "/x", nil), "/auth/login", url.Values{"from": {"/goals?id=1"}})
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/auth/login?from=%2Fgoals%3Fid%3D1", rr.Header().Get("Location"))
}
