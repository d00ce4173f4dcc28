package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckExisting(t *testing.T) {
	tests := []struct {
		name      string
		setupFunc func(t *testing.T, dir string)
		wantErr   bool
		errMsg    string
	}{
		{
			name:      "no existing files",
			setupFunc: func(t *testing.T, dir string) {},
		},
		{
			name: "existing sift.yml only",
			setupFunc: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("version: '1.0'"), 0644))
			},
			wantErr: true,
			errMsg:  "Found existing: sift.yml",
		},
		{
			name: "existing state directory only",
			setupFunc: func(t *testing.T, dir string) {
				require.NoError(t, os.MkdirAll(filepath.Join(dir, StateDir), 0755))
			},
			wantErr: true,
			errMsg:  "Found existing: .sift/",
		},
		{
			name: "both exist",
			setupFunc: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("version: '1.0'"), 0644))
				require.NoError(t, os.MkdirAll(filepath.Join(dir, StateDir), 0755))
			},
			wantErr: true,
			errMsg:  "  - .sift/",
		},
		{
			name: "a file named .sift is not a state directory",
			setupFunc: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, StateDir), []byte("x"), 0644))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setupFunc(t, dir)

			err := CheckExisting(dir)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Contains(t, err.Error(), "sift init --force")
		})
	}
}
