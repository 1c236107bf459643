package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestPayload_FlatWireShape(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := ImagePayload(ProviderOpenAIVision, ImageAnalysis{
		Description: "relaxed posture",
		Timestamp:   ts,
		Size:        SizeMetadata{OriginalWidth: 2000, Width: 768, Resized: true},
	})

	body, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if fields["provider"] != "openai_vision" {
		t.Errorf("provider = %v, want openai_vision", fields["provider"])
	}
	if fields["description"] != "relaxed posture" {
		t.Errorf("description = %v", fields["description"])
	}
	if _, nested := fields["Image"]; nested {
		t.Error("variant must be flattened, found nested Image field")
	}
}

func TestPayload_DecodesByProvider(t *testing.T) {
	raw := `{"provider":"hume","jobId":"job-9","emotions":{"Calmness":0.7},"topEmotions":[{"name":"Calmness","score":0.7}],"segments":2}`

	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Provider != ProviderHume || p.Voice == nil || p.Image != nil {
		t.Fatalf("decoded %+v, want voice variant only", p)
	}
	if p.Voice.JobID != "job-9" || p.Voice.Emotions["Calmness"] != 0.7 {
		t.Errorf("voice = %+v", p.Voice)
	}
}

func TestPayload_UnknownProvider(t *testing.T) {
	var p Payload
	err := json.Unmarshal([]byte(`{"provider":"elsewhere"}`), &p)
	if err == nil || !strings.Contains(err.Error(), "unknown payload provider") {
		t.Errorf("Unmarshal = %v, want unknown provider error", err)
	}

	if _, err := json.Marshal(Payload{Provider: ProviderHume}); err == nil {
		t.Error("Marshal of a payload without its variant succeeded")
	}
}

func TestError_KindMatching(t *testing.T) {
	err := fmt.Errorf("executing: %w", Wrap(KindProviderTimeout, "job timed out after 300 seconds", errors.New("deadline")))

	if !errors.Is(err, ErrProviderTimeout) {
		t.Error("errors.Is did not match by kind through wrapping")
	}
	if errors.Is(err, ErrProviderTransport) {
		t.Error("errors.Is matched a different kind")
	}
	if KindOf(err) != KindProviderTimeout {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf of an untyped error should be empty")
	}
	if got := err.Error(); got != "executing: job timed out after 300 seconds: deadline" {
		t.Errorf("Error() = %q", got)
	}
}
