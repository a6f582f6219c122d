package postmortem

import (
	"strings"
	"testing"
)

func TestDetect_UnhandledExceptionFromStackTrace(t *testing.T) {
	out := "/tmp/a.rb:3:in 'foo': boom (RuntimeError)\n"
	r := Detect(Input{LastOutput: out})
	if r.Classification != UnhandledException {
		t.Fatalf("classification = %v, want UnhandledException", r.Classification)
	}
	if r.ExceptionClass != "RuntimeError" || r.ExceptionMsg != "boom" {
		t.Fatalf("got class=%q msg=%q", r.ExceptionClass, r.ExceptionMsg)
	}
}

func TestDetect_LeadingClassPattern(t *testing.T) {
	out := "NoMethodError: undefined method 'foo'\n"
	r := Detect(Input{LastOutput: out})
	if r.Classification != UnhandledException {
		t.Fatalf("classification = %v, want UnhandledException", r.Classification)
	}
	if r.ExceptionClass != "NoMethodError" {
		t.Fatalf("ExceptionClass = %q", r.ExceptionClass)
	}
}

func TestDetect_NoProcessHandleIsConnectionLost(t *testing.T) {
	r := Detect(Input{LastOutput: "ordinary output"})
	if r.Classification != ConnectionLost {
		t.Fatalf("classification = %v, want ConnectionLost", r.Classification)
	}
}

func TestDetect_MessageNotesUncapturedStreams(t *testing.T) {
	r := Detect(Input{LastOutput: "ordinary output", StreamsWereCaptured: false})
	if !strings.Contains(r.Message, "no output streams were captured") {
		t.Fatalf("message = %q", r.Message)
	}
}
