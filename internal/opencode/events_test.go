package opencode

import (
	"strings"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantType    string
		wantSession string
	}{
		{
			name:        "message updated",
			payload:     `{"type":"message.updated","properties":{"info":{"id":"m1","sessionID":"s1","role":"assistant","time":{"created":1}}}}`,
			wantType:    TypeMessageUpdated,
			wantSession: "s1",
		},
		{
			name:        "part updated",
			payload:     `{"type":"message.part.updated","properties":{"part":{"id":"p","sessionID":"s2","messageID":"m","type":"text","text":"hi"}}}`,
			wantType:    TypePartUpdated,
			wantSession: "s2",
		},
		{
			name:        "session idle",
			payload:     `{"type":"session.idle","properties":{"sessionID":"s3"}}`,
			wantType:    TypeSessionIdle,
			wantSession: "s3",
		},
		{
			name:        "permission asked",
			payload:     `{"type":"permission.asked","properties":{"id":"per","sessionID":"s4","permission":"bash","patterns":["ls"]}}`,
			wantType:    TypePermissionAsked,
			wantSession: "s4",
		},
		{
			name:        "session updated",
			payload:     `{"type":"session.updated","properties":{"info":{"id":"s5","title":"T"}}}`,
			wantType:    TypeSessionUpdated,
			wantSession: "s5",
		},
		{
			name:     "unknown type",
			payload:  `{"type":"server.connected","properties":{}}`,
			wantType: "server.connected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.payload))
			if err != nil {
				t.Fatalf("DecodeEvent() failed: %v", err)
			}
			if ev.Type() != tt.wantType {
				t.Errorf("Type() = %q, want %q", ev.Type(), tt.wantType)
			}
			if ev.SessionID() != tt.wantSession {
				t.Errorf("SessionID() = %q, want %q", ev.SessionID(), tt.wantSession)
			}
		})
	}
}

func TestDecodeEvent_TypedFields(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"question.asked","properties":{"id":"que_1","sessionID":"s",
		"questions":[{"question":"Pick","header":"H","options":[{"label":"A","description":"first"}],"multiple":true}]}}`))
	if err != nil {
		t.Fatal(err)
	}
	q, ok := ev.(QuestionAsked)
	if !ok {
		t.Fatalf("got %T", ev)
	}
	if q.ID != "que_1" || len(q.Questions) != 1 || !q.Questions[0].Multiple || q.Questions[0].Options[0].Label != "A" {
		t.Errorf("QuestionAsked = %+v", q)
	}

	ev, err = DecodeEvent([]byte(`{"type":"permission.asked","properties":{"id":"per_1","sessionID":"s","permission":"edit","patterns":["a.go","b.go"]}}`))
	if err != nil {
		t.Fatal(err)
	}
	p := ev.(PermissionAsked)
	if p.ID != "per_1" || p.Permission != "edit" || len(p.Patterns) != 2 {
		t.Errorf("PermissionAsked = %+v", p)
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"session.diff","properties":{"sessionID":"s","diff":"not-a-list"}}`))
	if err != nil {
		t.Fatalf("malformed properties should not fail: %v", err)
	}
	u, ok := ev.(Unknown)
	if !ok {
		t.Fatalf("got %T, want Unknown", ev)
	}
	if u.Err == nil || u.Type() != TypeSessionDiff {
		t.Errorf("Unknown = %+v", u)
	}

	ev, _ = DecodeEvent([]byte(`{"type":"session.idle"}`))
	if u, ok := ev.(Unknown); !ok || u.Err == nil {
		t.Errorf("missing properties = %#v", ev)
	}
}

func TestDecodeEvent_NotAnEnvelope(t *testing.T) {
	for _, payload := range []string{`not json`, `{"properties":{}}`, `[]`} {
		if _, err := DecodeEvent([]byte(payload)); err == nil {
			t.Errorf("DecodeEvent(%q) should fail", payload)
		}
	}
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": comment",
		"event: message",
		"data: {\"a\":1}",
		"",
		"data: line1",
		"data: line2",
		"",
		"",
		"id: 7",
		"data: tail",
	}, "\n")

	var got []string
	if err := readSSE(strings.NewReader(stream), func(p string) bool {
		got = append(got, p)
		return true
	}); err != nil {
		t.Fatalf("readSSE() failed: %v", err)
	}

	want := []string{`{"a":1}`, "line1\nline2", "tail"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("payloads = %q, want %q", got, want)
	}
}

func TestReadSSE_StopsWhenEmitDeclines(t *testing.T) {
	stream := "data: one\n\ndata: two\n\n"
	calls := 0
	_ = readSSE(strings.NewReader(stream), func(string) bool {
		calls++
		return false
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
