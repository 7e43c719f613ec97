package header

import (
	"strings"
	"testing"
)

// TestParseRequest verifies the fixed-shape record is filled from a
// complete request head
func TestParseRequest(t *testing.T) {
	raw := "GET /index.html HTTP/1.0\r\n" +
		"Host: example.com\r\n" +
		"User-Agent: curl/8.0\r\n" +
		"Connection: close\r\n" +
		"Proxy-Connection: keep-alive\r\n" +
		"Accept: */*\r\n" +
		"X-Custom: yes\r\n" +
		"\r\n"

	h, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if h.Method != "GET" || h.Target != "/index.html" || h.Version != "HTTP/1.0" {
		t.Errorf("bad request line: %+v", h)
	}
	if h.Host != "example.com" {
		t.Errorf("expected host example.com, got %q", h.Host)
	}
	if h.UserAgent != "curl/8.0" {
		t.Errorf("expected user agent curl/8.0, got %q", h.UserAgent)
	}
	if h.Connection != "close" || h.ProxyConnection != "keep-alive" {
		t.Errorf("distinguished headers not captured: %+v", h)
	}
	if len(h.Others) != 2 {
		t.Fatalf("expected 2 remaining fields, got %d", len(h.Others))
	}
	if h.Others[0].Key != "Accept" || h.Others[1].Key != "X-Custom" {
		t.Errorf("remaining fields out of order: %+v", h.Others)
	}
}

// TestParseBareRequest verifies a request with no header fields parses
func TestParseBareRequest(t *testing.T) {
	h, err := Parse(strings.NewReader("GET /cgi-bin/hey HTTP/1.1\r\n\r\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if h.Target != "/cgi-bin/hey" {
		t.Errorf("expected /cgi-bin/hey, got %q", h.Target)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"post", "POST /a.html HTTP/1.0\r\n\r\n", ErrMethodNotSupported},
		{"version", "GET /a.html HTTP/2.0\r\n\r\n", ErrVersionNotSupported},
		{"garbage", "not an http request\r\n\r\n", ErrInvalidRequest},
		{"empty", "", ErrInvalidRequest},
		{"badfield", "GET /a.html HTTP/1.0\r\nno colon here\r\n\r\n", ErrInvalidHeaderField},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tc.raw)); err != tc.want {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		target string
		class  ResourceType
		name   string
	}{
		{"/cgi-bin/hey", ResourceCGIBin, "hey"},
		{"/cgi-bin/time1", ResourceCGIBin, "time1"},
		{"/index.html", ResourceHTML, "index.html"},
		{"/notes.txt", ResourceTxt, "notes.txt"},
		{"/cmu.gif", ResourceGIF, "cmu.gif"},
		{"/cmu.jpg", ResourceJPG, "cmu.jpg"},
		{"/", ResourceUnknown, ""},
		{"/archive.zip", ResourceUnknown, ""},
		{"/cgi-bin/", ResourceUnknown, ""},
		{"/../etc/passwd.html", ResourceUnknown, ""},
	}

	for _, tc := range cases {
		class, name := Classify(tc.target)
		if class != tc.class || name != tc.name {
			t.Errorf("Classify(%q) = (%v, %q), expected (%v, %q)",
				tc.target, class, name, tc.class, tc.name)
		}
	}
}

// TestClassifyStaticIsStatic pins the class-to-path split the reactor
// relies on when choosing a dispatch path
func TestClassifyStaticIsStatic(t *testing.T) {
	if !ResourceHTML.IsStatic() || !ResourceTxt.IsStatic() ||
		!ResourceGIF.IsStatic() || !ResourceJPG.IsStatic() {
		t.Error("static classes must report IsStatic")
	}
	if ResourceCGIBin.IsStatic() || ResourceUnknown.IsStatic() {
		t.Error("dynamic and unknown classes must not report IsStatic")
	}
}
