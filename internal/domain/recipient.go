package domain

import (
	"fmt"
	"strings"
)

// RecipientKind selects how a RecipientSpec is resolved into subscriptions.
type RecipientKind string

const (
	RecipientSingle        RecipientKind = "SINGLE"
	RecipientBroadcast     RecipientKind = "BROADCAST"
	RecipientByApplication RecipientKind = "APPLICATION"
	RecipientList          RecipientKind = "LIST"
)

func (k RecipientKind) String() string { return string(k) }

func (k RecipientKind) IsValid() bool {
	switch k {
	case RecipientSingle, RecipientBroadcast, RecipientByApplication, RecipientList:
		return true
	}
	return false
}

func ParseRecipientKindFromString(s string) (RecipientKind, error) {
	k := RecipientKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid recipient kind %q", ErrValidation, s)
	}
	return k, nil
}

// RecipientSpec describes who a notification goes to.
type RecipientSpec struct {
	Kind          RecipientKind `json:"kind"`
	OwnerID       string        `json:"ownerId,omitempty"`
	ApplicationID string        `json:"applicationId,omitempty"`
	OwnerIDs      []string      `json:"ownerIds,omitempty"`
}

func Single(ownerID string) RecipientSpec {
	return RecipientSpec{Kind: RecipientSingle, OwnerID: ownerID}
}

func Broadcast() RecipientSpec {
	return RecipientSpec{Kind: RecipientBroadcast}
}

func ByApplication(applicationID string) RecipientSpec {
	return RecipientSpec{Kind: RecipientByApplication, ApplicationID: applicationID}
}

func List(ownerIDs ...string) RecipientSpec {
	return RecipientSpec{Kind: RecipientList, OwnerIDs: ownerIDs}
}

func (r RecipientSpec) Validate() error {
	switch r.Kind {
	case RecipientSingle:
		if strings.TrimSpace(r.OwnerID) == "" {
			return fmt.Errorf("%w: owner id is required", ErrValidation)
		}
	case RecipientBroadcast:
	case RecipientByApplication:
		if strings.TrimSpace(r.ApplicationID) == "" {
			return fmt.Errorf("%w: application id is required", ErrValidation)
		}
	case RecipientList:
		if len(r.OwnerIDs) == 0 {
			return fmt.Errorf("%w: owner ids are required", ErrValidation)
		}
		for _, id := range r.OwnerIDs {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("%w: owner ids must not be blank", ErrValidation)
			}
		}
	default:
		return fmt.Errorf("%w: invalid recipient kind %q", ErrValidation, r.Kind)
	}
	return nil
}

func (r RecipientSpec) String() string {
	switch r.Kind {
	case RecipientSingle:
		return fmt.Sprintf("single(%s)", r.OwnerID)
	case RecipientByApplication:
		return fmt.Sprintf("application(%s)", r.ApplicationID)
	case RecipientList:
		return fmt.Sprintf("list(%d)", len(r.OwnerIDs))
	case RecipientBroadcast:
		return "broadcast"
	}
	return string(r.Kind)
}
