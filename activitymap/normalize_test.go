package activitymap_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-allowlist"
	"github.com/goliatone/go-allowlist/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := allowlist.ActivityEvent{
		EventType: allowlist.ActivityEventStageChanged,
		MemberID:  "member-100",
		Discord:   "pilot#0001",
		Twitter:   "pilot_tw",
		FromStage: allowlist.StageLinked,
		ToStage:   allowlist.StageVerified,
		Metadata: map[string]any{
			"address": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "pilot_tw" {
		t.Fatalf("expected actor_id pilot_tw, got %q", out.ActorID)
	}
	if out.Verb != string(allowlist.ActivityEventStageChanged) {
		t.Fatalf("expected verb %q, got %q", allowlist.ActivityEventStageChanged, out.Verb)
	}
	if out.ObjectType != "member" {
		t.Fatalf("expected object_type member, got %q", out.ObjectType)
	}
	if out.ObjectID != "member-100" {
		t.Fatalf("expected object_id member-100, got %q", out.ObjectID)
	}
	if out.Channel != "allowlist" {
		t.Fatalf("expected channel allowlist, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["address"] != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Fatalf("expected metadata address, got %#v", out.Metadata["address"])
	}
	if out.Metadata[activitymap.MetadataKeyFromStage] != string(allowlist.StageLinked) {
		t.Fatalf("expected metadata from_stage linked, got %#v", out.Metadata[activitymap.MetadataKeyFromStage])
	}
	if out.Metadata[activitymap.MetadataKeyToStage] != string(allowlist.StageVerified) {
		t.Fatalf("expected metadata to_stage verified, got %#v", out.Metadata[activitymap.MetadataKeyToStage])
	}
	if out.Metadata[activitymap.MetadataKeyDiscord] != "pilot#0001" {
		t.Fatalf("expected metadata discord, got %#v", out.Metadata[activitymap.MetadataKeyDiscord])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	event := allowlist.ActivityEvent{
		EventType: allowlist.ActivityEventRejected,
		Reason:    allowlist.TextCodeInvalidAddress,
		Metadata: map[string]any{
			"address": "0x12",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("wallet"),
		activitymap.WithObjectIDResolver(func(e allowlist.ActivityEvent) string {
			if v, ok := e.Metadata["address"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "wallet" {
		t.Fatalf("expected object_type wallet, got %q", out.ObjectType)
	}
	if out.ObjectID != "0x12" {
		t.Fatalf("expected object_id 0x12, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyReason] != allowlist.TextCodeInvalidAddress {
		t.Fatalf("expected reason %q, got %#v", allowlist.TextCodeInvalidAddress, out.Metadata[activitymap.MetadataKeyReason])
	}
	if out.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be set when input is zero")
	}
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  allowlist.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses twitter handle when present",
			event:  allowlist.ActivityEvent{Twitter: "pilot_tw", Discord: "pilot#0001"},
			expect: "pilot_tw",
		},
		{
			name:   "uses discord handle when twitter missing",
			event:  allowlist.ActivityEvent{Discord: "pilot#0001"},
			expect: "pilot#0001",
		},
		{
			name:   "uses default fallback when handles missing",
			event:  allowlist.ActivityEvent{},
			expect: "anonymous",
		},
		{
			name:   "uses configured fallback when handles missing",
			event:  allowlist.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("seed")},
			expect: "seed",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

func TestSinkWritesJSONLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := activitymap.NewSink(&buf, activitymap.WithDefaultChannel("audit"))

	events := []allowlist.ActivityEvent{
		{EventType: allowlist.ActivityEventIdentitiesLinked, MemberID: "member-1", Twitter: "pilot_tw"},
		{EventType: allowlist.ActivityEventPassIssued, MemberID: "member-1", Twitter: "pilot_tw"},
	}
	for _, event := range events {
		if err := sink.Record(context.Background(), event); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var record activitymap.Normalized
	if err := json.Unmarshal([]byte(lines[1]), &record); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if record.Verb != string(allowlist.ActivityEventPassIssued) {
		t.Fatalf("expected verb pass.issued, got %q", record.Verb)
	}
	if record.Channel != "audit" {
		t.Fatalf("expected channel audit, got %q", record.Channel)
	}
	if record.ActorID != "pilot_tw" {
		t.Fatalf("expected actor pilot_tw, got %q", record.ActorID)
	}
}
