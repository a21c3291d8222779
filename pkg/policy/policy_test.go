package policy

import (
	"testing"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/ratelimit"
)

func TestValidateRequiresNamespaceForScoped(t *testing.T) {
	m := New()
	err := m.Validate(Request{
		Policy:      Policy{Kind: PrivateScoped},
		ContentSize: 10,
	})
	if _, ok := err.(*MissingParameterError); !ok {
		t.Fatalf("expected MissingParameterError, got %v", err)
	}
}

func TestValidateGroupContextMismatch(t *testing.T) {
	m := New()
	err := m.Validate(Request{
		Policy:       Policy{Kind: GroupScoped, Group: "team-a"},
		GroupContext: "team-b",
		ContentSize:  10,
	})
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidatePublicMarkdownRejectsBinary(t *testing.T) {
	m := New()
	err := m.Validate(Request{
		Policy:      Policy{Kind: PublicMarkdown},
		ContentType: "application/octet-stream",
		ContentSize: 10,
	})
	if err == nil {
		t.Fatalf("expected rejection of non-markdown content type")
	}
}

func TestValidateSizeCapEnforced(t *testing.T) {
	m := New()
	m.SetSizeCap(PrivateMax, 100)
	err := m.Validate(Request{
		Policy:      Policy{Kind: PrivateMax},
		ContentSize: 200,
	})
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected size cap ValidationError, got %v", err)
	}
}

func TestValidateSuccessRecordsAuditAndCache(t *testing.T) {
	m := New()
	err := m.Validate(Request{
		Policy:      Policy{Kind: PrivateScoped, Namespace: "ns1"},
		ContentID:   "cid-1",
		ContentType: "text/plain",
		ContentSize: 10,
		User:        "alice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok := m.PolicyFor("cid-1")
	if !ok || p.Namespace != "ns1" {
		t.Fatalf("expected cached policy for cid-1")
	}
	log := m.AuditLog()
	if len(log) != 1 || log[0].User != "alice" {
		t.Fatalf("expected one audit entry for alice, got %+v", log)
	}
}

func TestPlanTransitionMatrix(t *testing.T) {
	tr, err := PlanTransition(PrivateMax, PrivateScoped)
	if err != nil {
		t.Fatalf("expected PrivateMax->PrivateScoped to be allowed: %v", err)
	}
	if !tr.RequiresReEncryption {
		t.Fatalf("every transition requires re-encryption")
	}

	if _, err := PlanTransition(PrivateMax, GroupScoped); err == nil {
		t.Fatalf("expected skipping PrivateScoped to be rejected")
	}
	if _, err := PlanTransition(PublicMarkdown, PrivateMax); err == nil {
		t.Fatalf("expected downgrade from PublicMarkdown to be rejected")
	}
}

func TestDedupScopeByKind(t *testing.T) {
	cases := []struct {
		k    Kind
		want DedupScope
	}{
		{PrivateMax, DedupNone},
		{PrivateScoped, DedupNamespace},
		{GroupScoped, DedupGroup},
		{PublicMarkdown, DedupGlobal},
	}
	for _, c := range cases {
		if got := (Policy{Kind: c.k}).DedupScope(); got != c.want {
			t.Fatalf("%s: got dedup scope %v, want %v", c.k, got, c.want)
		}
	}
}

func TestValidateRateLimitedAfterCapacityExhausted(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{Capacity: 1, Refill: time.Hour})
	m := New(WithRateLimiter(limiter))

	req := Request{Policy: Policy{Kind: PrivateMax}, User: "alice", ContentSize: 10}
	if err := m.Validate(req); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	err := m.Validate(req)
	if _, ok := err.(*RateLimitedError); !ok {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
}
