// Package tiles describes the raster tile source attached to every map view.
package tiles

import (
	"errors"
	"fmt"
	"html"
	"io"
	"net/url"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Defaults match the public OpenStreetMap tile servers.
const (
	DefaultURLTemplate = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultAttribution = `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`
	DefaultMaxZoom     = 19
)

// ErrInvalidTemplate is returned for URL templates that cannot address tiles.
var ErrInvalidTemplate = errors.New("invalid tile url template")

// Source is a tile layer definition. It is configuration, not per-update state.
type Source struct {
	URLTemplate string  `yaml:"url_template" json:"url_template"`
	Attribution string  `yaml:"attribution" json:"attribution"`
	MaxZoom     float64 `yaml:"max_zoom" json:"max_zoom"`
}

// Default returns the OpenStreetMap source.
func Default() Source {
	return Source{
		URLTemplate: DefaultURLTemplate,
		Attribution: DefaultAttribution,
		MaxZoom:     DefaultMaxZoom,
	}
}

// Validate checks that the template has the z/x/y placeholders and an http(s) scheme.
func (s Source) Validate() error {
	t := strings.TrimSpace(s.URLTemplate)
	if t == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTemplate)
	}
	for _, ph := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(t, ph) {
			return fmt.Errorf("%w: missing %s in %q", ErrInvalidTemplate, ph, t)
		}
	}

	// Placeholders are not valid in a URL host, so swap them out before parsing.
	probe := strings.NewReplacer("{s}", "a", "{z}", "0", "{x}", "0", "{y}", "0", "{r}", "").Replace(t)
	u, err := url.Parse(probe)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not supported", ErrInvalidTemplate, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidTemplate)
	}
	if s.MaxZoom < 0 {
		return fmt.Errorf("max_zoom must not be negative, got %v", s.MaxZoom)
	}
	return nil
}

// Sanitized returns a copy with a safe attribution.
func (s Source) Sanitized() Source {
	s.Attribution = SanitizeAttribution(s.Attribution)
	return s
}

// SanitizeAttribution keeps text and http(s) links from an attribution snippet.
// The map library renders attribution as HTML, so anything else is dropped.
func SanitizeAttribution(in string) string {
	z := xhtml.NewTokenizer(strings.NewReader(in))
	var b strings.Builder
	openLinks := 0
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				for ; openLinks > 0; openLinks-- {
					b.WriteString("</a>")
				}
				return strings.TrimSpace(b.String())
			}
			return ""

		case xhtml.TextToken:
			if skipDepth > 0 {
				continue
			}
			b.WriteString(html.EscapeString(string(z.Text())))

		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style:
				if tt == xhtml.StartTagToken {
					skipDepth++
				}
			case atom.A:
				if tt == xhtml.SelfClosingTagToken {
					continue
				}
				href := safeHref(tok.Attr)
				if href == "" {
					b.WriteString("<a>")
				} else {
					fmt.Fprintf(&b, `<a href="%s">`, html.EscapeString(href))
				}
				openLinks++
			}

		case xhtml.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style:
				if skipDepth > 0 {
					skipDepth--
				}
			case atom.A:
				if openLinks > 0 {
					b.WriteString("</a>")
					openLinks--
				}
			}
		}
	}
}

func safeHref(attrs []xhtml.Attribute) string {
	for _, a := range attrs {
		if a.Key != "href" {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(a.Val))
		if err != nil {
			return ""
		}
		if u.Scheme == "http" || u.Scheme == "https" {
			return u.String()
		}
		return ""
	}
	return ""
}
