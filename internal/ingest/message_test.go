package ingest

import (
	"errors"
	"testing"
)

func TestParseMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    Message
		wantErr bool
	}{
		{
			name: "text sentiment",
			in:   `{"type":"text_sentiment","text":" I did not take it ","label":"Truthful","score":0.73}`,
			want: TextSentiment{Text: "I did not take it", Label: "truthful", Score: 0.73, Scored: true},
		},
		{
			name: "text sentiment without score",
			in:   `{"type":"text_sentiment","text":"I was at home","label":"truthful"}`,
			want: TextSentiment{Text: "I was at home", Label: "truthful"},
		},
		{
			name: "text sentiment with zero score",
			in:   `{"type":"text_sentiment","text":"I was at home","label":"truthful","score":0}`,
			want: TextSentiment{Text: "I was at home", Label: "truthful", Scored: true},
		},
		{
			name: "partial",
			in:   `{"type":"partial","text":"I did"}`,
			want: Partial{Text: "I did"},
		},
		{
			name: "partial in legacy field",
			in:   `{"type":"partial","partial":"hello there"}`,
			want: Partial{Text: "hello there"},
		},
		{
			name: "unknown type is ignored",
			in:   `{"type":"heartbeat"}`,
			want: Unknown{Kind: "heartbeat"},
		},
		{name: "not json", in: `{`, wantErr: true},
		{name: "missing type", in: `{"text":"a b"}`, wantErr: true},
		{name: "empty text", in: `{"type":"text_sentiment","text":"   "}`, wantErr: true},
		{name: "score out of range", in: `{"type":"text_sentiment","text":"a b","score":1.5}`, wantErr: true},
		{name: "voice without emotion", in: `{"type":"voice_sentiment","speech_ratio":0.4}`, wantErr: true},
		{name: "wrong field type", in: `{"type":"voice_sentiment","emotion":"x"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMessage([]byte(tt.in))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("err = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseMessage_VoiceSentiment(t *testing.T) {
	t.Parallel()
	msg, err := ParseMessage([]byte(`{"type":"voice_sentiment","emotion":{"neu":1,"hap":0,"sad":0,"ang":0},"error":"model failed"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := msg.(VoiceSentiment)
	if !ok {
		t.Fatalf("got %T, want VoiceSentiment", msg)
	}
	if v.Emotion["neu"] != 1 || v.Error != "model failed" || v.SpeechRatio != nil {
		t.Errorf("got %+v", v)
	}
	if v.Type() != TypeVoiceSentiment {
		t.Errorf("Type() = %q", v.Type())
	}
}

func TestWordCount(t *testing.T) {
	t.Parallel()
	tests := map[string]int{
		"":              0,
		"ok":            1,
		"  ok  ":        1,
		"ok then":       2,
		"a\tb\nc   d  ": 4,
	}
	for in, want := range tests {
		if got := wordCount(in); got != want {
			t.Errorf("wordCount(%q) = %d, want %d", in, got, want)
		}
	}
}
