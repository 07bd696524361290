package jptext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNarrow(t *testing.T) {
	assert.Equal(t, "1,234", Narrow("１，２３４"))
	assert.Equal(t, "ABC 90%", Narrow("ＡＢＣ　９０％"))
	assert.Equal(t, "2,480", Narrow("2,480"))
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
		ok    bool
	}{
		{"yen with comma", "¥4,980", 4980, true},
		{"full width yen", "１，２３４円", 1234, true},
		{"review count", "レビュー1,234件", 1234, true},
		{"decimal rating", "4.5点", 4.5, true},
		{"full width decimal", "４．６", 4.6, true},
		{"plain int", "312", 312, true},
		{"negative", "-5", -5, true},
		{"padded", "  2,480円  ", 2480, true},
		{"no digits", "価格未定", 0, false},
		{"empty", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestFoldSpace(t *testing.T) {
	assert.Equal(t, "a b c", FoldSpace("  a \t b \n c  "))
	assert.Equal(t, "", FoldSpace("   "))
}

func TestCleanTitle(t *testing.T) {
	excludes := []string{"送料無料", "ホーム"}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"keeps product segment", "真空断熱ボトル 500ml | 送料無料キャンペーン", "真空断熱ボトル 500ml"},
		{"full width separator", "ホーム｜真空断熱ボトル 500ml", "真空断熱ボトル 500ml"},
		{"no separator", "真空断熱ボトル 500ml", "真空断熱ボトル 500ml"},
		{"all excluded", "送料無料 | ホーム", ""},
		{"empty", "   ", ""},
		{"longest survivor wins", "ボトル | 真空断熱ボトル 500ml 保温保冷", "真空断熱ボトル 500ml 保温保冷"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanTitle(tt.input, excludes))
		})
	}
}
