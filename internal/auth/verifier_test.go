package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	v, err := NewVerifier("s3cret", "quadfc")
	if err != nil {
		t.Fatal(err)
	}
	tok, err := v.Issue("ground-station", time.Hour, RolePilot)
	if err != nil {
		t.Fatal(err)
	}
	c, err := v.VerifyToken(tok)
	if err != nil {
		t.Fatalf("VerifyToken() = %v", err)
	}
	if c.Subject != "ground-station" || !c.HasRole(RolePilot) || c.HasRole(RoleObserver) {
		t.Errorf("claims = %+v", c)
	}
}

func TestVerifyRejects(t *testing.T) {
	v, _ := NewVerifier("s3cret", "quadfc")
	other, _ := NewVerifier("different", "quadfc")
	foreign, _ := NewVerifier("s3cret", "someone-else")

	forged, _ := other.Issue("x", time.Hour, RolePilot)
	wrongIssuer, _ := foreign.Issue("x", time.Hour, RolePilot)

	past := time.Now().Add(-2 * time.Hour)
	old, _ := NewVerifier("s3cret", "quadfc")
	old.now = func() time.Time { return past }
	expired, _ := old.Issue("x", time.Minute, RolePilot)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", forged},
		{"wrong issuer", wrongIssuer},
		{"expired", expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.VerifyToken(tt.token); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	v, _ := NewVerifier("s3cret", "")
	pilot, _ := v.Issue("p", time.Hour, RolePilot)
	observer, _ := v.Issue("o", time.Hour, RoleObserver)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"pilot header", "Bearer " + pilot, "", http.StatusOK},
		{"pilot query", "", pilot, http.StatusOK},
		{"observer", "Bearer " + observer, "", http.StatusForbidden},
		{"missing", "", "", http.StatusUnauthorized},
		{"basic scheme", "Basic " + pilot, "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/ws/command"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			_, err := v.Authorize(r, RolePilot)
			got := http.StatusOK
			if err != nil {
				got = StatusCode(err)
			}
			if got != tt.want {
				t.Errorf("status = %d, want %d (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestIssueUnknownRole(t *testing.T) {
	v, _ := NewVerifier("s3cret", "")
	if _, err := v.Issue("x", time.Hour, "admin"); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := NewVerifier(" ", ""); err == nil {
		t.Error("expected error for blank secret")
	}
}
