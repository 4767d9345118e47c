package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\nfive\n"), 0o644))

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{"fewer than file", 3, []string{"three", "four", "five"}},
		{"exactly file", 5, []string{"one", "two", "three", "four", "five"}},
		{"more than file", 10, []string{"one", "two", "three", "four", "five"}},
		{"single line", 1, []string{"five"}},
		{"zero", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lastLines(path, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLastLinesMissingFile(t *testing.T) {
	_, err := lastLines(filepath.Join(t.TempDir(), "absent.log"), 5)
	assert.Error(t, err)
}
