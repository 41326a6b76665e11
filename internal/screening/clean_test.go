package screening

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/amara/loan-screener/internal/engine"
)

func TestCleanDescription_StripsMarkup(t *testing.T) {
	raw := `<p>Maria grows <b>vegetables</b> near Eldoret.</p><script>alert("x")</script>`

	got := CleanDescription(raw)

	if got != "Maria grows vegetables near Eldoret." {
		t.Fatalf("unexpected text: %q", got)
	}
	if strings.Contains(got, "alert") {
		t.Fatalf("script content leaked: %q", got)
	}
}

func TestCleanDescription_UnescapesEntities(t *testing.T) {
	got := CleanDescription("Fruit &amp; vegetable stall")

	if got != "Fruit & vegetable stall" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestCleanDescription_CollapsesWhitespace(t *testing.T) {
	got := CleanDescription("one\n\ttwo    three ")

	if got != "one two three" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestCleanDescription_DropsInvalidUTF8(t *testing.T) {
	got := CleanDescription("caf\xff\xfe breakfast stand")

	if !utf8.ValidString(got) {
		t.Fatalf("invalid UTF-8 survived: %q", got)
	}
	if !strings.Contains(got, "breakfast stand") {
		t.Fatalf("text lost: %q", got)
	}
}

func TestCleanLoan_CleansBothDescriptionVariants(t *testing.T) {
	loan := engine.RawLoan{
		ID:                  12,
		Name:                "  Amina  ",
		Description:         "<p>Buys  solar lamps</p>",
		DescriptionOriginal: "<p>Compra  lamparas solares</p>",
	}

	CleanLoan(&loan)

	if loan.Name != "Amina" {
		t.Errorf("name not trimmed: %q", loan.Name)
	}
	if loan.Description != "Buys solar lamps" {
		t.Errorf("description not cleaned: %q", loan.Description)
	}
	if loan.DescriptionOriginal != "Compra lamparas solares" {
		t.Errorf("original description not cleaned: %q", loan.DescriptionOriginal)
	}
}
