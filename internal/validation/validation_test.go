package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/safetransfer/internal/address"
)

func TestIsValidAddress(t *testing.T) {
	a := address.ProgramID("validation")
	tests := []struct {
		addr  string
		valid bool
	}{
		{a.String(), true},
		{a.Hex(), true},

		// Invalid cases
		{"", false},
		{"0x", false},
		{"0x1234", false},
		{"not-base58-0OIl", false},
		{a.Hex() + "00", false},
	}

	for _, tc := range tests {
		result := IsValidAddress(tc.addr)
		if result != tc.valid {
			t.Errorf("IsValidAddress(%q) = %v, want %v", tc.addr, result, tc.valid)
		}
	}
}

func TestValidUint64(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"", true},
		{"0", true},
		{"20000000", true},
		{"18446744073709551615", true},
		{"18446744073709551616", false},
		{"-1", false},
		{"1.5", false},
		{"abc", false},
	}
	for _, tc := range tests {
		err := ValidUint64("amount", tc.value)()
		if (err == nil) != tc.ok {
			t.Errorf("ValidUint64(%q) error = %v, want ok=%v", tc.value, err, tc.ok)
		}
	}
}

func TestValidSignature(t *testing.T) {
	if err := ValidSignature("sig", strings.Repeat("ab", 64))(); err != nil {
		t.Errorf("64-byte signature rejected: %v", err)
	}
	if err := ValidSignature("sig", "0x"+strings.Repeat("ab", 65))(); err != nil {
		t.Errorf("65-byte signature rejected: %v", err)
	}
	if err := ValidSignature("sig", strings.Repeat("ab", 63))(); err == nil {
		t.Error("63-byte signature accepted")
	}
	if err := ValidSignature("sig", "zz")(); err == nil {
		t.Error("non-hex signature accepted")
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("sender", ""),
		ValidAddress("receiver", "bad"),
		ValidAddress("asset", ""),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if errs.Error() != "sender: is required" {
		t.Errorf("unexpected message %q", errs.Error())
	}
}

func TestAddressParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/accounts/:address", AddressParamMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/accounts/nope", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/accounts/"+address.ProgramID("x").String(), nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(8))
	r.POST("/", func(c *gin.Context) {
		var v map[string]any
		if err := c.ShouldBindJSON(&v); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"k":"0123456789"}`)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}
