package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmp := t.TempDir()
	plots := filepath.Join(tmp, "plots")
	elsewhere := filepath.Join(tmp, "elsewhere")
	require.NoError(t, os.MkdirAll(plots, 0o755))
	require.NoError(t, os.MkdirAll(elsewhere, 0o755))
	link := filepath.Join(plots, "link")
	require.NoError(t, os.Symlink(elsewhere, link))

	tests := []struct {
		name    string
		path    string
		dir     string
		wantErr bool
	}{
		{"file in dir", filepath.Join(plots, "main-1st.png"), plots, false},
		{"new nested dir", filepath.Join(plots, "2026", "03", "main-1st.png"), plots, false},
		{"dotdot", filepath.Join(plots, "..", "main-1st.png"), plots, true},
		{"relative escape", "../../../etc/passwd", plots, true},
		{"absolute outside", "/etc/passwd", plots, true},
		{"through symlink", filepath.Join(link, "main-1st.png"), plots, true},
		{"new file under symlink", filepath.Join(link, "new", "x.png"), plots, true},
		{"symlink itself", link, plots, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, tt.dir)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutsideDirectory)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateExportPath(t *testing.T) {
	assert.NoError(t, ValidateExportPath(filepath.Join(os.TempDir(), "green.png")))
	assert.NoError(t, ValidateExportPath("green.png"))
	assert.ErrorIs(t, ValidateExportPath("/etc/green.png"), ErrOutsideDirectory)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"main-1st":         "main-1st",
		"Main St / 1st Av": "Main_St_1st_Av",
		"../../etc":        "etc",
		"":                 "unknown",
		"///":              "unknown",
		"höhe-straße":      "h_he-stra_e",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}
