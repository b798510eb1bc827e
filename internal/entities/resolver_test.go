package entities

import (
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr/nip19"
)

const (
	hexID  = "5c83da77af1dec6d7289834998ad7aafbd9e2191396d75ec3cc27f5a77226f36"
	hexPub = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
)

func TestResolveTargetHex(t *testing.T) {
	target, err := ResolveTarget(hexID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.ID != hexID {
		t.Errorf("ID = %q, want %q", target.ID, hexID)
	}
	if target.Addressable {
		t.Error("hex id must not be addressable")
	}
}

func TestResolveTargetNote(t *testing.T) {
	note, err := nip19.EncodeNote(hexID)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	target, err := ResolveTarget(note)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.ID != hexID {
		t.Errorf("ID = %q, want %q", target.ID, hexID)
	}
	if target.Addressable {
		t.Error("note must not be addressable")
	}
}

func TestResolveTargetNevent(t *testing.T) {
	nevent, err := nip19.EncodeEvent(hexID, []string{"wss://relay.example.com"}, hexPub)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	target, err := ResolveTarget(nevent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.ID != hexID {
		t.Errorf("ID = %q, want %q", target.ID, hexID)
	}
	if target.Author != hexPub {
		t.Errorf("Author = %q, want %q", target.Author, hexPub)
	}
	if len(target.Relays) != 1 || target.Relays[0] != "wss://relay.example.com" {
		t.Errorf("Relays = %v", target.Relays)
	}
}

func TestResolveTargetNaddr(t *testing.T) {
	naddr, err := nip19.EncodeEntity(hexPub, 30311, "stream-1", nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	target, err := ResolveTarget(naddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "30311:" + hexPub + ":stream-1"
	if target.ID != want {
		t.Errorf("ID = %q, want %q", target.ID, want)
	}
	if !target.Addressable {
		t.Error("naddr must be addressable")
	}
	if target.Author != hexPub {
		t.Errorf("Author = %q, want %q", target.Author, hexPub)
	}
}

func TestResolveTargetNostrPrefix(t *testing.T) {
	target, err := ResolveTarget("nostr:" + hexID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.ID != hexID {
		t.Errorf("ID = %q, want %q", target.ID, hexID)
	}
}

func TestResolveTargetInvalid(t *testing.T) {
	tests := []struct {
		name string
		ref  string
	}{
		{"empty", ""},
		{"garbage", "not-a-reference"},
		{"short hex", "abc123"},
		{"uppercase hex", "5C83DA77AF1DEC6D7289834998AD7AAFBD9E2191396D75EC3CC27F5A77226F36"},
		{"npub is not a target", "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"},
		{"truncated note", "note1abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveTarget(tt.ref)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var rerr *ResolutionError
			if !errors.As(err, &rerr) {
				t.Errorf("expected *ResolutionError, got %T", err)
			}
		})
	}
}

func TestResolveTargets(t *testing.T) {
	note, _ := nip19.EncodeNote(hexID)
	targets, dropped := ResolveTargets([]string{hexID, "garbage", note, "also bad"})

	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(targets) != 2 {
		t.Fatalf("resolved = %d, want 2", len(targets))
	}
	if targets[0].ID != hexID || targets[1].ID != hexID {
		t.Errorf("targets = %v", targets)
	}
}
