package transcript

import (
	"reflect"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in        string
		sentences []string
		rest      string
	}{
		{"", nil, ""},
		{"Hello ", nil, "Hello "},
		{"Hello world. ", []string{"Hello world."}, ""},
		{"Hello world. Next", []string{"Hello world."}, "Next"},
		{"Next sentence.", []string{"Next sentence."}, ""},
		{"One! Two? Three.", []string{"One!", "Two?", "Three."}, ""},
		{"Really?! Yes", []string{"Really?!"}, "Yes"},
		{"Pi is 3.14 today. Then", []string{"Pi is 3.14 today."}, "Then"},
		{"See example.com for more", nil, "See example.com for more"},
		{`He said "stop." Then left`, []string{`He said "stop."`}, "Then left"},
		{"(An aside.) Back", []string{"(An aside.)"}, "Back"},
		{"Wait... What", []string{"Wait..."}, "What"},
		{"Tight.Packed", []string{"Tight."}, "Packed"},
		{"Hello world.next one", nil, "Hello world.next one"},
		{"Version 2.0 ships", nil, "Version 2.0 ships"},
		{"So… Anyway", []string{"So…"}, "Anyway"},
		{"  . Leading", []string{"."}, "Leading"},
		{"Trailing space stays ", nil, "Trailing space stays "},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sentences, rest := SplitSentences(tt.in)
			if !reflect.DeepEqual(sentences, tt.sentences) {
				t.Errorf("sentences = %q, want %q", sentences, tt.sentences)
			}
			if rest != tt.rest {
				t.Errorf("rest = %q, want %q", rest, tt.rest)
			}
		})
	}
}
