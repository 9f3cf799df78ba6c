package dispute

import (
	"errors"

	"guildcourt/auth"
	"guildcourt/escrow"
)

var (
	// validation
	ErrSameParty           = errors.New("dispute: plaintiff and defendant must differ")
	ErrInvalidReason       = errors.New("dispute: invalid reason length")
	ErrInvalidEvidence     = errors.New("dispute: invalid evidence url")
	ErrInvalidDecision     = errors.New("dispute: invalid vote decision")
	ErrAmbiguousReference  = errors.New("dispute: ambiguous reference id")
	ErrReferenceNotFound   = errors.New("dispute: reference not found")
	ErrBountyNotDisputable = errors.New("dispute: bounty not disputable")
	ErrBountyNotFunded     = errors.New("dispute: bounty has no locked funds")
	ErrProjectCancelled    = errors.New("dispute: project cancelled")
	ErrMilestonePaid       = errors.New("dispute: milestone already paid")

	// authorization
	ErrNotParty        = errors.New("dispute: only parties can submit evidence")
	ErrPartyCannotVote = errors.New("dispute: parties cannot vote")
	ErrNotGuildMember  = errors.New("dispute: voter must be guild member")

	// conflict
	ErrDisputeActive       = errors.New("dispute: dispute already active for reference")
	ErrDisputeClosed       = errors.New("dispute: dispute already closed")
	ErrEvidencePeriodEnded = errors.New("dispute: evidence period ended")
	ErrVotingPeriodEnded   = errors.New("dispute: voting period ended")
	ErrVotingPeriodActive  = errors.New("dispute: voting period still active")
	ErrAlreadyVoted        = errors.New("dispute: voter already voted")
	ErrNotResolved         = errors.New("dispute: dispute not resolved")
	ErrAlreadyExecuted     = errors.New("dispute: resolution already executed")

	// not found
	ErrNotFound     = errors.New("dispute: not found")
	ErrVoteNotFound = errors.New("dispute: vote not found")

	// invariant
	ErrBudgetExceeded = errors.New("dispute: project budget exceeded")
	ErrUnknownType    = errors.New("dispute: unknown reference type")
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindInvariant     Kind = "invariant"
	KindInternal      Kind = "internal"
)

var kinds = map[error]Kind{
	ErrSameParty:           KindValidation,
	ErrInvalidReason:       KindValidation,
	ErrInvalidEvidence:     KindValidation,
	ErrInvalidDecision:     KindValidation,
	ErrAmbiguousReference:  KindValidation,
	ErrReferenceNotFound:   KindValidation,
	ErrBountyNotDisputable: KindValidation,
	ErrBountyNotFunded:     KindValidation,
	ErrProjectCancelled:    KindValidation,
	ErrMilestonePaid:       KindValidation,

	ErrNotParty:             KindAuthorization,
	ErrPartyCannotVote:      KindAuthorization,
	ErrNotGuildMember:       KindAuthorization,
	auth.ErrUnauthorized:    KindAuthorization,
	auth.ErrUnauthenticated: KindAuthorization,

	ErrDisputeActive:       KindConflict,
	ErrDisputeClosed:       KindConflict,
	ErrEvidencePeriodEnded: KindConflict,
	ErrVotingPeriodEnded:   KindConflict,
	ErrVotingPeriodActive:  KindConflict,
	ErrAlreadyVoted:        KindConflict,
	ErrNotResolved:         KindConflict,
	ErrAlreadyExecuted:     KindConflict,

	ErrNotFound:     KindNotFound,
	ErrVoteNotFound: KindNotFound,

	ErrBudgetExceeded:           KindInvariant,
	ErrUnknownType:              KindInvariant,
	escrow.ErrInsufficientFunds: KindInvariant,
}

// KindOf classifies err. Unrecognised errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// Rejected reports whether err is a precondition failure rather than an
// infrastructure fault.
func Rejected(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindAuthorization, KindConflict, KindNotFound:
		return true
	default:
		return false
	}
}
