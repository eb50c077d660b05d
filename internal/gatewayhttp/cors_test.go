package gatewayhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchOrigin_Wildcard(t *testing.T) {
	assert.Equal(t, "*", matchOrigin([]string{"*"}, "https://example.com"))
}

func TestMatchOrigin_ExactMatch(t *testing.T) {
	assert.Equal(t, "https://a.test", matchOrigin([]string{"https://a.test", "https://b.test"}, "https://a.test"))
}

func TestMatchOrigin_CaseInsensitive(t *testing.T) {
	assert.Equal(t, "https://A.test", matchOrigin([]string{"https://a.test"}, "https://A.test"))
}

func TestMatchOrigin_NoMatch(t *testing.T) {
	assert.Equal(t, "", matchOrigin([]string{"https://a.test"}, "https://evil.test"))
}

func TestMatchOrigin_EmptyOrigin(t *testing.T) {
	assert.Equal(t, "", matchOrigin([]string{"*"}, ""))
}

func TestCORSMiddleware_DisabledPassesThrough(t *testing.T) {
	st := newFakeStore()
	st.settings.CORSEnabled = false
	e := &Engine{deps: Deps{Store: st}}

	called := false
	h := e.corsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.True(t, called)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_SetsAllowOriginWhenAllowed(t *testing.T) {
	st := newFakeStore()
	st.settings.CORSEnabled = true
	st.settings.CORSOrigins = []string{"https://example.com"}
	e := &Engine{deps: Deps{Store: st}}

	h := e.corsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
}

func TestCORSMiddleware_OmitsAllowOriginWhenDisallowed(t *testing.T) {
	st := newFakeStore()
	st.settings.CORSEnabled = true
	st.settings.CORSOrigins = []string{"https://allowed.test"}
	e := &Engine{deps: Deps{Store: st}}

	called := false
	h := e.corsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, called)
}

func TestCORSMiddleware_OptionsShortCircuits(t *testing.T) {
	st := newFakeStore()
	st.settings.CORSEnabled = true
	st.settings.CORSOrigins = []string{"*"}
	e := &Engine{deps: Deps{Store: st}}

	called := false
	h := e.corsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
