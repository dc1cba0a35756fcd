package outcome

import (
	"strings"
	"testing"
)

func TestSanitizeTaskStripsDialOutPrefix(t *testing.T) {
	got := SanitizeTask("позвонить по номеру +79261234567 и уточнить время доставки")
	want := "Уточнить время доставки"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSanitizeTaskStripsPrefixWithoutNomeru(t *testing.T) {
	got := SanitizeTask("позвонить +79261234567 и подтвердить бронь")
	want := "Подтвердить бронь"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSanitizeTaskCollapsesWhitespace(t *testing.T) {
	got := SanitizeTask("подтвердить    бронь\nна   завтра")
	want := "Подтвердить бронь на завтра"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSanitizeTaskCapsLengthWithoutCorruptingMultibyteRunes(t *testing.T) {
	long := strings.Repeat("а", 400)
	got := SanitizeTask(long)
	if count := len([]rune(got)); count != maxTaskLength {
		t.Fatalf("expected %d runes, got %d", maxTaskLength, count)
	}
	for _, r := range got {
		if r == '�' {
			t.Fatal("truncation corrupted a multi-byte rune")
		}
	}
}

func TestSanitizeTaskEmptyInput(t *testing.T) {
	if got := SanitizeTask(""); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
