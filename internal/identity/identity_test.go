package identity

import "testing"

func TestProvisionalIDsAreDistinct(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewProvisionalID()
		if seen[id] {
			t.Fatalf("duplicate provisional id: %s", id)
		}
		seen[id] = true
	}
}

func TestIDDomainsAreDisjoint(t *testing.T) {
	t.Parallel()

	prov := NewProvisionalID()
	if !IsProvisional(prov) {
		t.Errorf("expected %q to be provisional", prov)
	}
	if IsServerAssigned(prov) {
		t.Errorf("provisional id %q matched the server domain", prov)
	}

	conv := NewConversationID()
	msg := NewMessageID()
	for _, id := range []string{conv, msg} {
		if !IsServerAssigned(id) {
			t.Errorf("expected %q to be server-assigned", id)
		}
		if IsProvisional(id) {
			t.Errorf("server id %q matched the provisional domain", id)
		}
	}
}

func TestIsServerAssignedRejectsMalformedIDs(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"", "conv_", "msg_short", "user_abc", "conv_ZZZZZZZZ-0000-0000-0000-000000000000"} {
		if IsServerAssigned(id) {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}
