package usage

import (
	"fmt"

	"github.com/fitsa/fitsa/internal/model"
)

const (
	identityKeyLength = 64
	maxCategories     = 8
	maxErrorCode      = 64
)

// ValidatePayload validates stream payload fields before they reach Postgres.
func ValidatePayload(payload EventPayload) error {
	if payload.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if payload.IdentityKey != "" && (len(payload.IdentityKey) != identityKeyLength || !isHex(payload.IdentityKey)) {
		return fmt.Errorf("identity_key must be %d hex chars", identityKeyLength)
	}
	switch model.UsageOutcome(payload.Outcome) {
	case model.UsageCompleted, model.UsageFailed, model.UsageQuotaExceeded, model.UsageRateLimited:
	default:
		return fmt.Errorf("unknown outcome %q", payload.Outcome)
	}
	switch model.DebitSource(payload.ChargedFrom) {
	case "", model.DebitSourceFree, model.DebitSourceCredit:
	default:
		return fmt.Errorf("unknown charged_from %q", payload.ChargedFrom)
	}
	if len(payload.Categories) > maxCategories {
		return fmt.Errorf("too many categories")
	}
	for _, c := range payload.Categories {
		if !model.Category(c).IsValid() {
			return fmt.Errorf("unknown category %q", c)
		}
	}
	if payload.RefitCount < 0 {
		return fmt.Errorf("refit_count must not be negative")
	}
	if len(payload.ErrorCode) > maxErrorCode {
		return fmt.Errorf("error_code too long")
	}
	if payload.OccurredAt <= 0 {
		return fmt.Errorf("occurred_at must be set")
	}
	return nil
}

func isHex(value string) bool {
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F') {
			continue
		}
		return false
	}
	return true
}
