package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024 / 2, "1.5 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.0 TB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.bytes))
	}
}

func TestLabelsMatch(t *testing.T) {
	assert.True(t, LabelsMatch([]string{"Kids"}, []string{"kids"}))
	assert.True(t, LabelsMatch([]string{" Science Fiction "}, []string{"Drama", "SCIENCE FICTION"}))
	assert.True(t, LabelsMatch([]string{"Café"}, []string{"CAFÉ"}))
	assert.False(t, LabelsMatch([]string{"Kids"}, []string{"Kids & Family"}))
	assert.False(t, LabelsMatch(nil, []string{"Kids"}))
	assert.False(t, LabelsMatch([]string{"Kids"}, nil))
}
