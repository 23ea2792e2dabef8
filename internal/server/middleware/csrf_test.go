package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func csrfHandler() http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return CSRF([]string{"https://app.example.com"}, []string{"/auth/"})(ok)
}

func TestCSRFAllowsSafeMethods(t *testing.T) {
	h := csrfHandler()
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		req := httptest.NewRequest(m, "/users/profile", nil)
		req.Header.Set("Origin", "https://evil.example.net")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Errorf("%s: want 204, got %d", m, rr.Code)
		}
	}
}

func TestCSRFExemptPrefix(t *testing.T) {
	h := csrfHandler()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("exempt path: want 204, got %d", rr.Code)
	}
}

func TestCSRFRejectsForeignOrigin(t *testing.T) {
	h := csrfHandler()
	req := httptest.NewRequest(http.MethodPost, "/users/devices", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	req.Header.Set("X-CSRF-Token", "tok")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign origin: want 403, got %d", rr.Code)
	}
}

func TestCSRFRequiresToken(t *testing.T) {
	h := csrfHandler()
	req := httptest.NewRequest(http.MethodPost, "/users/devices", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("request without token: want 403, got %d", rr.Code)
	}

	req.Header.Set("X-CSRF-Token", "tok")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("request with token and allowed origin: want 204, got %d", rr.Code)
	}
}

func TestCSRFRequiresOriginOrReferer(t *testing.T) {
	h := csrfHandler()

	// Neither Origin nor Referer, with and without the token: both 403.
	req := httptest.NewRequest(http.MethodPost, "/users/devices", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("no headers at all: want 403, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/users/devices", nil)
	req.Header.Set("X-CSRF-Token", "tok")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("token but no origin and no referer: want 403, got %d", rr.Code)
	}

	// Referer alone satisfies the origin requirement.
	req = httptest.NewRequest(http.MethodPost, "/users/devices", nil)
	req.Header.Set("X-CSRF-Token", "tok")
	req.Header.Set("Referer", "https://app.example.com/settings")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("token with allowed referer: want 204, got %d", rr.Code)
	}
}

func TestCSRFRefererFallback(t *testing.T) {
	h := csrfHandler()
	req := httptest.NewRequest(http.MethodPost, "/users/devices", nil)
	req.Header.Set("X-CSRF-Token", "tok")
	req.Header.Set("Referer", "https://evil.example.net/page")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign referer: want 403, got %d", rr.Code)
	}
}
