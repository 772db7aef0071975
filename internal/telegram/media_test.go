package telegram

import "testing"

func TestMediaExt(t *testing.T) {
	tests := []struct {
		name  string
		media MediaInfo
		want  string
	}{
		{"filename wins", MediaInfo{Filename: "Photo.JPG", MimeType: "video/mp4"}, "jpg"},
		{"mime fallback", MediaInfo{MimeType: "audio/ogg"}, "ogg"},
		{"mime case-insensitive", MediaInfo{MimeType: "Image/PNG"}, "png"},
		{"filename without ext falls through", MediaInfo{Filename: "README", MimeType: "application/pdf"}, "pdf"},
		{"unknown everything", MediaInfo{MimeType: "application/x-whatever"}, "bin"},
		{"empty", MediaInfo{}, "bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.media.ext(); got != tt.want {
				t.Errorf("ext = %q, want %q", got, tt.want)
			}
		})
	}
}
