package mqtt

import "testing"

func TestTopics_Builders(t *testing.T) {
	topics := Topics{Prefix: "lab"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"canonical", topics.Canonical("data", "0x100"), "lab/data/0x100"},
		{"producer", topics.Producer("control", "0x100"), "lab/in/control/0x100"},
		{"all canonical", topics.AllCanonical("data"), "lab/data/#"},
		{"all producer", topics.AllProducer("control"), "lab/in/control/#"},
		{"status", topics.Status("rtr-store"), "lab/status/rtr-store"},
		{"all status", topics.AllStatus(), "lab/status/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_DefaultPrefix(t *testing.T) {
	if got := (Topics{}).Canonical("data", "0x1"); got != DefaultTopicPrefix+"/data/0x1" {
		t.Errorf("Canonical() = %q, want default prefix", got)
	}
}

func TestTopics_ToCanonical(t *testing.T) {
	topics := Topics{Prefix: "lab"}

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"lab/in/data/0x100", "lab/data/0x100", true},
		{"lab/in/control/0x7", "lab/control/0x7", true},
		{"lab/data/0x100", "", false},
		{"other/in/data/0x100", "", false},
		{"lab/in/", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := topics.ToCanonical(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ToCanonical(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTopics_RoundTrip(t *testing.T) {
	topics := Topics{Prefix: "rtrtelemetry"}
	producer := topics.Producer("data", "0x1FFFFFFF")

	canonical, ok := topics.ToCanonical(producer)
	if !ok {
		t.Fatalf("ToCanonical(%q) not ok", producer)
	}
	if canonical != topics.Canonical("data", "0x1FFFFFFF") {
		t.Errorf("ToCanonical(Producer()) = %q, want %q", canonical, topics.Canonical("data", "0x1FFFFFFF"))
	}
}

func TestDevice(t *testing.T) {
	if got := Device("rtrtelemetry/data/0x100"); got != "0x100" {
		t.Errorf("Device() = %q, want 0x100", got)
	}
	if got := Device("bare"); got != "bare" {
		t.Errorf("Device() = %q, want bare", got)
	}
}
