package header

import "strings"

// ResourceType classifies a request-target into the classes the server
// knows how to serve
type ResourceType int

const (
	ResourceUnknown ResourceType = iota
	ResourceCGIBin
	ResourceHTML
	ResourceTxt
	ResourceGIF
	ResourceJPG
)

// IsStatic reports whether the class is served from the static file store
func (t ResourceType) IsStatic() bool {
	switch t {
	case ResourceHTML, ResourceTxt, ResourceGIF, ResourceJPG:
		return true
	}
	return false
}

// String names the class for logs and metric labels
func (t ResourceType) String() string {
	switch t {
	case ResourceCGIBin:
		return "dynamic"
	case ResourceHTML, ResourceTxt, ResourceGIF, ResourceJPG:
		return "static"
	default:
		return "unknown"
	}
}

// Classify maps a request-target to its resource class and bare resource
// name. Dynamic targets look like /cgi-bin/<name>; static targets are a
// filename with one of the four served extensions. Anything else is
// unknown and silently dropped by the caller
func Classify(target string) (ResourceType, string) {
	if name, ok := strings.CutPrefix(target, "/cgi-bin/"); ok && name != "" {
		return ResourceCGIBin, name
	}

	name := strings.TrimPrefix(target, "/")
	if name == "" || strings.Contains(name, "..") {
		return ResourceUnknown, ""
	}

	switch {
	case strings.HasSuffix(name, ".html"):
		return ResourceHTML, name
	case strings.HasSuffix(name, ".txt"):
		return ResourceTxt, name
	case strings.HasSuffix(name, ".gif"):
		return ResourceGIF, name
	case strings.HasSuffix(name, ".jpg"):
		return ResourceJPG, name
	}
	return ResourceUnknown, ""
}
