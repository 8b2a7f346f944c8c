package pair

import (
	"database/sql"
	"time"
)

// MembershipStatus is the extent of the authentication surface in this
// service: whether a participant position in a pair is live.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "ACTIVE"
	MembershipPending MembershipStatus = "PENDING" // invited, not yet joined
	MembershipRemoved MembershipStatus = "REMOVED"
)

// Pair is the couple that owns a stream of cycles. Participant identities are
// opaque external user IDs; slot one/two assignment is fixed at creation.
type Pair struct {
	ID                   int64
	ParticipantOneID     int64
	ParticipantTwoID     sql.NullInt64 // unset while the invite is pending
	ParticipantOneStatus MembershipStatus
	ParticipantTwoStatus MembershipStatus
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
