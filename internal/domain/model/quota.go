package model

import (
	"fmt"
	"strings"
	"time"
)

// Tier represents a subscription level determining how many jobs a user may
// submit in a billing/trial period.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Tier string

const (
	// TierTrial is the free trial tier with a small fixed job limit.
	TierTrial Tier = "trial"
	// TierPro is the paid tier with unlimited job submissions.
	TierPro Tier = "pro"
	// TierExpired marks a lapsed subscription; no further jobs are admitted.
	TierExpired Tier = "expired"

	// UnlimitedQuota is the sentinel limit for tiers that never block.
	UnlimitedQuota = -1
)

// UnmarshalText implements encoding.TextUnmarshaler for Tier to allow env parsing.
func (t *Tier) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	tier := Tier(v)
	if tier.Valid() {
		*t = tier
		return nil
	}
	return fmt.Errorf("invalid Tier: %q", v)
}

// Valid returns true if the Tier is valid.
func (t Tier) Valid() bool {
	return t == TierTrial || t == TierPro || t == TierExpired
}

// Unlimited returns true for tiers whose reservations never block.
func (t Tier) Unlimited() bool {
	return t == TierPro
}

// QuotaRecord tracks per-user consumption against a tier-defined limit.
// Used is incremented exactly once per admitted job and never refunded;
// a failed job still consumes quota.
type QuotaRecord struct {
	OwnerID     string    `json:"owner_id"     db:"owner_id"`
	Tier        Tier      `json:"tier"         db:"tier"`
	Used        int       `json:"used"         db:"used"`
	Limit       int       `json:"limit"        db:"quota_limit"`
	PeriodStart time.Time `json:"period_start" db:"period_start"`
	UpdatedAt   time.Time `json:"updated_at"   db:"updated_at"`
}

// QuotaDecision is the outcome of an atomic check-and-reserve.
// When Allowed is true, Used reflects the post-increment value.
type QuotaDecision struct {
	Allowed bool `json:"allowed"`
	Used    int  `json:"used"`
	Limit   int  `json:"limit"`
}

// Remaining returns how many reservations are left, or UnlimitedQuota.
func (d *QuotaDecision) Remaining() int {
	if d.Limit == UnlimitedQuota {
		return UnlimitedQuota
	}
	if d.Limit <= d.Used {
		return 0
	}
	return d.Limit - d.Used
}
