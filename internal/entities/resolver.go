// Package entities resolves opaque target references into canonical
// identifiers the aggregation pipeline can key on.
package entities

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ResolutionError indicates an unrecognized or invalid target reference.
// Callers drop the single reference and continue.
type ResolutionError struct {
	Ref string
	Err error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unresolvable reference %q: %v", e.Ref, e.Err)
	}
	return fmt.Sprintf("unresolvable reference %q", e.Ref)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

var hexIDRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Target is a resolved reference
type Target struct {
	// ID is the canonical identifier: a 64-hex event id, or a
	// kind:pubkey:identifier coordinate for addressable events.
	ID string
	// Addressable is true when ID is a coordinate rather than an event id
	Addressable bool
	// Author is the event author when the reference encodes one
	Author string
	// Relays carries relay hints from the reference, if any
	Relays []string
}

// ResolveTarget resolves an opaque reference to a canonical target.
// Accepted encodings: 64-hex event id, note1..., nevent1..., naddr1...,
// each optionally carrying a nostr: prefix.
func ResolveTarget(ref string) (*Target, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(ref), "nostr:")
	if trimmed == "" {
		return nil, &ResolutionError{Ref: ref}
	}

	if hexIDRegex.MatchString(trimmed) {
		return &Target{ID: trimmed}, nil
	}

	prefix, decoded, err := nip19.Decode(trimmed)
	if err != nil {
		return nil, &ResolutionError{Ref: ref, Err: err}
	}

	switch prefix {
	case "note":
		return &Target{ID: decoded.(string)}, nil

	case "nevent":
		pointer := decoded.(nostr.EventPointer)
		return &Target{
			ID:     pointer.ID,
			Author: pointer.Author,
			Relays: pointer.Relays,
		}, nil

	case "naddr":
		pointer := decoded.(nostr.EntityPointer)
		return &Target{
			ID:          fmt.Sprintf("%d:%s:%s", pointer.Kind, pointer.PublicKey, pointer.Identifier),
			Addressable: true,
			Author:      pointer.PublicKey,
			Relays:      pointer.Relays,
		}, nil

	default:
		return nil, &ResolutionError{Ref: ref, Err: fmt.Errorf("unsupported NIP-19 type: %s", prefix)}
	}
}

// ResolveTargets resolves a batch of references, dropping the unresolvable
// ones. The second return value counts the drops.
func ResolveTargets(refs []string) ([]*Target, int) {
	resolved := make([]*Target, 0, len(refs))
	dropped := 0

	for _, ref := range refs {
		target, err := ResolveTarget(ref)
		if err != nil {
			dropped++
			continue
		}
		resolved = append(resolved, target)
	}

	return resolved, dropped
}
