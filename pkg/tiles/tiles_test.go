package tiles

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		src     Source
		wantErr bool
	}{
		{"Default", Default(), false},
		{"No subdomain", Source{URLTemplate: "https://tiles.example.com/{z}/{x}/{y}.png"}, false},
		{"Empty", Source{}, true},
		{"Missing z", Source{URLTemplate: "https://tiles.example.com/{x}/{y}.png"}, true},
		{"FTP scheme", Source{URLTemplate: "ftp://tiles.example.com/{z}/{x}/{y}.png"}, true},
		{"Relative", Source{URLTemplate: "/tiles/{z}/{x}/{y}.png"}, true},
		{"Negative max zoom", Source{URLTemplate: "https://a.example.com/{z}/{x}/{y}.png", MaxZoom: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.src.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_WrapsSentinel(t *testing.T) {
	err := Source{URLTemplate: "https://example.com/tiles.png"}.Validate()
	if !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate, got %v", err)
	}
}

func TestSanitizeAttribution(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "Default OSM",
			in:   DefaultAttribution,
			want: `© <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`,
		},
		{
			name: "Script dropped",
			in:   `Tiles <script>alert(1)</script>by us`,
			want: `Tiles by us`,
		},
		{
			name: "Javascript href dropped",
			in:   `<a href="javascript:alert(1)">x</a>`,
			want: `<a>x</a>`,
		},
		{
			name: "Other tags stripped",
			in:   `<b>Bold</b> <img src=x onerror=alert(1)>text`,
			want: `Bold text`,
		},
		{
			name: "Unclosed link closed",
			in:   `<a href="https://example.com">open`,
			want: `<a href="https://example.com">open</a>`,
		},
		{
			name: "Escapes text",
			in:   `a &lt; b`,
			want: `a &lt; b`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeAttribution(tt.in); got != tt.want {
				t.Errorf("SanitizeAttribution() = %q, want %q", got, tt.want)
			}
		})
	}
}
