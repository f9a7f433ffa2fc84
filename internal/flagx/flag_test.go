package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "separate value",
			args:    []string{"-c", "conf.json", "-a", "localhost"},
			allowed: []string{"-c"},
			want:    []string{"-c", "conf.json"},
		},
		{
			name:    "equals form",
			args:    []string{"-t=15", "-x=1"},
			allowed: []string{"-t"},
			want:    []string{"-t=15"},
		},
		{
			name:    "next dash token is not a value",
			args:    []string{"-c", "-i", "2048"},
			allowed: []string{"-c", "-i"},
			want:    []string{"-c", "-i", "2048"},
		},
		{
			name:    "trailing flag without value",
			args:    []string{"-c"},
			allowed: []string{"-c"},
			want:    []string{"-c"},
		},
		{
			name:    "unknown flags dropped",
			args:    []string{"-x", "1", "positional"},
			allowed: []string{"-c"},
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "/etc/gophdrive.json", ConfigPath([]string{"-c", "/etc/gophdrive.json"}))
	assert.Equal(t, "/tmp/a.json", ConfigPath([]string{"-config=/tmp/a.json", "-b", "bucket"}))
	assert.Equal(t, "2.json", ConfigPath([]string{"-c", "1.json", "-config", "2.json"}))
	assert.Empty(t, ConfigPath([]string{"-b", "bucket"}))
}
