package graph

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "terminal punctuation",
			in:   "John left. Mary stayed! Who called?",
			want: []string{"John left.", "Mary stayed!", "Who called?"},
		},
		{
			name: "paragraph breaks",
			in:   "First statement\n\nSecond statement",
			want: []string{"First statement", "Second statement"},
		},
		{
			name: "dot without following space kept together",
			in:   "Checked the footage from cam7.mp4 again.",
			want: []string{"Checked the footage from cam7.mp4 again."},
		},
		{
			name: "trailing text without punctuation",
			in:   "John left. Then nothing",
			want: []string{"John left.", "Then nothing"},
		},
		{
			name: "empty",
			in:   "   \n\n  ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitSentences(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitSentences(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitIntoChunks(t *testing.T) {
	count := func(s string) int { return len(strings.Fields(s)) }

	t.Run("short text stays one chunk", func(t *testing.T) {
		got := splitIntoChunks("John Doe was seen near the warehouse.", count, 100)
		want := []string{"John Doe was seen near the warehouse."}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("long text splits on sentence boundaries", func(t *testing.T) {
		text := "John met Mary. Mary owns the warehouse. The shipment arrived late."
		got := splitIntoChunks(text, count, 7)
		want := []string{
			"John met Mary. Mary owns the warehouse.",
			"The shipment arrived late.",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("oversized sentence becomes its own chunk", func(t *testing.T) {
		text := "Short one. This single sentence runs far beyond the budget on its own. Short two."
		got := splitIntoChunks(text, count, 3)
		if len(got) != 3 {
			t.Fatalf("got %d chunks %v, want 3", len(got), got)
		}
		if !strings.Contains(got[1], "beyond the budget") {
			t.Errorf("middle chunk = %q, want the oversized sentence intact", got[1])
		}
	})

	t.Run("empty text yields no chunks", func(t *testing.T) {
		if got := splitIntoChunks("  \n ", count, 5); got != nil {
			t.Errorf("got %v, want nil", got)
		}
	})
}
