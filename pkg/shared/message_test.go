package shared

import (
	"encoding/json"
	"testing"
)

func TestIsClientType(t *testing.T) {
	tests := map[MessageType]bool{
		MessageTypeRun:    true,
		MessageTypeInput:  true,
		MessageTypeOutput: false,
		MessageTypePrompt: false,
		MessageTypeDone:   false,
		MessageTypeError:  false,
		"":                false,
	}
	for typ, want := range tests {
		if got := IsClientType(typ); got != want {
			t.Errorf("IsClientType(%q) = %v, want %v", typ, got, want)
		}
	}
}

func TestOutputFrameIsCompact(t *testing.T) {
	data, err := json.Marshal(Message{Type: MessageTypeOutput, Text: "Hi"})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != `{"type":"output","text":"Hi"}` {
		t.Errorf("frame = %s", got)
	}
}
