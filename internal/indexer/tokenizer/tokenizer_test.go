package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerms(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"punctuation", "Super service, bon prix", []string{"super", "service", "bon", "prix"}},
		{"hyphen splits", "rapport qualité-prix", []string{"rapport", "qualité", "prix"}},
		{"digits kept", "Note 5/5 en 2024", []string{"note", "5", "5", "en", "2024"}},
		{"stop words dropped", "The service is great", []string{"service", "great"}},
		{"fullwidth folded", "ＳＥＲＶＩＣＥ", []string{"service"}},
		{"empty", "", nil},
		{"only separators", " ,;!? ", nil},
		{"only stop words", "the and of", nil},
	}
	a := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Terms(tt.text))
		})
	}
}

func TestTokenizePositionsCountKeptTerms(t *testing.T) {
	tokens := Default().Tokenize("the food and the wine")
	assert.Equal(t, []Token{{Term: "food", Position: 0}, {Term: "wine", Position: 1}}, tokens)
}

func TestCustomStopWords(t *testing.T) {
	a := New([]string{"Le", "la", ""})
	assert.Equal(t, []string{"service", "the"}, a.Terms("le service la the"))
	assert.True(t, a.IsStopWord("le"))
	assert.False(t, a.IsStopWord(""))
}

func TestNoStopWords(t *testing.T) {
	assert.Equal(t, []string{"the", "end"}, New(nil).Terms("The End"))
}

func BenchmarkTokenizeShort(b *testing.B) {
	a := Default()
	text := "Service un peu lent mais prix correct"
	b.ReportAllocs()
	for b.Loop() {
		a.Tokenize(text)
	}
}

func BenchmarkTokenizeLong(b *testing.B) {
	a := Default()
	text := "Super service, bon prix. Le chef nous a proposé un menu dégustation " +
		"remarquable avec des accords mets et vins parfaitement choisis; " +
		"l'accueil était chaleureux et le cadre magnifique, nous reviendrons."
	b.ReportAllocs()
	for b.Loop() {
		a.Tokenize(text)
	}
}
