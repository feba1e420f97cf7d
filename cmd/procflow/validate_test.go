package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/procflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadDefinition(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name: "valid",
			content: `{"name":"Onboarding","version":"1.0.0","steps":[
				{"id":"notify","type":"notification","config":{"channel":"email","to":"ops@example.com","body":"hi"},"next":"end"}
			]}`,
		},
		{
			name:    "no steps",
			content: `{"name":"Onboarding","steps":[]}`,
			wantErr: models.ErrInvalidDefinition,
		},
		{
			name: "dangling next",
			content: `{"name":"Onboarding","steps":[
				{"id":"notify","type":"notification","config":{"channel":"email","to":"ops@example.com","body":"hi"},"next":"missing"}
			]}`,
			wantErr: models.ErrUnknownNextStep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := loadDefinition(writeFile(t, "process.json", tt.content))

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, "Onboarding", def.Name)
			assert.Len(t, def.Steps, 1)
		})
	}
}

func TestLoadDefinition_Malformed(t *testing.T) {
	_, err := loadDefinition(writeFile(t, "process.json", "{"))
	require.Error(t, err)

	_, err = loadDefinition(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
