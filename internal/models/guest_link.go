package models

import (
	"encoding/hex"
	"errors"
	"math"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// UnlimitedUses is the max_uses sentinel for links without a usage cap.
const UnlimitedUses = -1

// MaxUsesLimit is the largest cap a registry column can hold.
const MaxUsesLimit = math.MaxInt32

// LinkIDPattern is the charset accepted for the id segment of a guest link path.
var LinkIDPattern = regexp.MustCompile(`^[a-zA-Z0-9+/_=]{1,32}$`)

// LinkState is derived from the link fields and the current instant; it is never stored.
type LinkState string

const (
	StateUnusedValid         LinkState = "UNUSED_VALID"
	StateUsable              LinkState = "USABLE"
	StateExhausted           LinkState = "EXHAUSTED"
	StateExpired             LinkState = "EXPIRED"
	StateExpiredAndExhausted LinkState = "EXPIRED_AND_EXHAUSTED"
)

// GuestLink proxies SourcePath under an opaque id, limited by use count and/or expiry.
type GuestLink struct {
	ID         string     `json:"id"`
	SourcePath string     `json:"source_path"`
	MaxUses    int        `json:"max_uses"`
	UsedCount  int        `json:"used_count"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewGuestLink builds an unsaved link with a fresh id. maxUses < 0 means unlimited.
func NewGuestLink(sourcePath string, maxUses int, expiresAt *time.Time) *GuestLink {
	if maxUses < 0 {
		maxUses = UnlimitedUses
	}
	return &GuestLink{
		ID:         NewLinkID(),
		SourcePath: sourcePath,
		MaxUses:    maxUses,
		ExpiresAt:  expiresAt,
	}
}

// NewLinkID returns 128 random bits as 32 lowercase hex characters.
func NewLinkID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// HasExpired reports whether ExpiresAt is set and strictly before now.
func (l *GuestLink) HasExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// IsWithinUsageLimit reports whether another use is allowed by the counter.
func (l *GuestLink) IsWithinUsageLimit() bool {
	return l.MaxUses < 0 || l.UsedCount < l.MaxUses
}

func (l *GuestLink) CanBeUsed(now time.Time) bool {
	return l.IsWithinUsageLimit() && !l.HasExpired(now)
}

func (l *GuestLink) IsUnlimited() bool {
	return l.MaxUses < 0
}

// RemainingUses returns -1 for unlimited links.
func (l *GuestLink) RemainingUses() int {
	if l.IsUnlimited() {
		return UnlimitedUses
	}
	if l.UsedCount >= l.MaxUses {
		return 0
	}
	return l.MaxUses - l.UsedCount
}

func (l *GuestLink) State(now time.Time) LinkState {
	expired := l.HasExpired(now)
	exhausted := !l.IsWithinUsageLimit()

	switch {
	case expired && exhausted:
		return StateExpiredAndExhausted
	case expired:
		return StateExpired
	case exhausted:
		return StateExhausted
	case l.UsedCount == 0:
		return StateUnusedValid
	default:
		return StateUsable
	}
}

// Touch stamps the link for a persist: CreatedAt once, UpdatedAt every time.
// Stamps are truncated to microseconds so they survive a database round trip,
// and UpdatedAt strictly increases because registries compare it on save.
func (l *GuestLink) Touch(now time.Time) {
	now = now.Truncate(time.Microsecond)
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if !l.UpdatedAt.IsZero() && !now.After(l.UpdatedAt) {
		now = l.UpdatedAt.Add(time.Microsecond)
	}
	l.UpdatedAt = now
}

func (l *GuestLink) Validate() error {
	return validation.ValidateStruct(l,
		validation.Field(&l.ID, validation.Required, validation.Match(LinkIDPattern)),
		validation.Field(&l.SourcePath, validation.Required, validation.By(absolutePath)),
		validation.Field(&l.MaxUses, validation.Min(UnlimitedUses), validation.Max(MaxUsesLimit)),
		validation.Field(&l.UsedCount, validation.Min(0), validation.Max(MaxUsesLimit)),
		validation.Field(&l.UpdatedAt, validation.By(func(interface{}) error {
			if l.UpdatedAt.Before(l.CreatedAt) {
				return errors.New("must not be before created_at")
			}
			return nil
		})),
	)
}

// Clone returns a copy that does not share ExpiresAt with l.
func (l *GuestLink) Clone() *GuestLink {
	c := *l
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

func absolutePath(value interface{}) error {
	path, _ := value.(string)
	if len(path) == 0 || path[0] != '/' {
		return errors.New("must be an absolute path")
	}
	return nil
}
