package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"blank", "  ", nil},
		{"single", "kafka-1:9092", []string{"kafka-1:9092"}},
		{"trims and dedupes", " kafka-1:9092, kafka-2:9092 ,kafka-1:9092,, ", []string{"kafka-1:9092", "kafka-2:9092"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.in, ","))
		})
	}
}

func TestDedupeAndTrim_KeepsOrder(t *testing.T) {
	assert.Equal(t, []string{"b", "a"}, DedupeAndTrim([]string{" b", "a", "b ", ""}))
	assert.Nil(t, DedupeAndTrim(nil))
}
