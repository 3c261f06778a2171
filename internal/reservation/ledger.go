package reservation

import (
	"time"
)

// ClaimStatus is the outcome of a claim attempt. The non-granted values
// double as the conflictType strings on the wire.
type ClaimStatus string

const (
	Granted     ClaimStatus = "granted"
	AlreadyUsed ClaimStatus = "already_used"
	HeldByOther ClaimStatus = "temporarily_held"

	// NotHeld is reported when confirm finds no hold to confirm.
	NotHeld ClaimStatus = "not_held"
	// NowUsed is reported to a holder whose number was committed by
	// someone else before they confirmed.
	NowUsed ClaimStatus = "now_used"
)

// DefaultTTL is how long a granted hold survives without confirmation.
const DefaultTTL = 180 * time.Second

// Hold is a live reservation of one attendance number.
type Hold struct {
	Number    int
	HolderID  string
	CreatedAt time.Time
	ExpiresAt time.Time

	gen   uint64
	timer *time.Timer
}

// Expiry identifies a specific hold generation whose timer fired. The gen
// distinguishes a stale fire from a live one: any path that removes or
// replaces a hold bumps past its generation, so a late timer is ignored.
type Expiry struct {
	Number   int
	HolderID string
	Gen      uint64
}

// Ledger owns every hold for one room. It is not safe for concurrent use;
// the owning room actor serializes all access, including the Expire calls
// triggered by fired timers. The fire callback must not call back into the
// ledger synchronously; it is invoked from a timer goroutine and should
// only post a message.
type Ledger struct {
	ttl   time.Duration
	fire  func(Expiry)
	holds map[int]*Hold
	gen   uint64

	// Now is overridable for tests that advance a virtual clock.
	Now func() time.Time
}

// NewLedger builds a ledger whose expiry timers report through fire.
func NewLedger(ttl time.Duration, fire func(Expiry)) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{
		ttl:   ttl,
		fire:  fire,
		holds: make(map[int]*Hold),
		Now:   time.Now,
	}
}

// Claim attempts to hold number for holderID. used is the set of numbers
// already committed to students; those are AlreadyUsed regardless of holds.
// A live hold by a different holder is HeldByOther. Re-claiming one's own
// number silently refreshes the TTL.
func (l *Ledger) Claim(number int, holderID string, used map[int]bool) ClaimStatus {
	if used[number] {
		return AlreadyUsed
	}
	if h, ok := l.holds[number]; ok {
		if h.HolderID != holderID && h.ExpiresAt.After(l.Now()) {
			return HeldByOther
		}
		l.remove(h)
	}

	l.gen++
	now := l.Now()
	h := &Hold{
		Number:    number,
		HolderID:  holderID,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
		gen:       l.gen,
	}
	if l.fire != nil {
		exp := Expiry{Number: number, HolderID: holderID, Gen: h.gen}
		h.timer = time.AfterFunc(l.ttl, func() { l.fire(exp) })
	}
	l.holds[number] = h
	return Granted
}

// Confirm removes the hold so the number can be committed to a student.
// It succeeds only for the hold's owner.
func (l *Ledger) Confirm(number int, holderID string) bool {
	h, ok := l.holds[number]
	if !ok || h.HolderID != holderID {
		return false
	}
	l.remove(h)
	return true
}

// Release frees the holder's own hold. A second release of the same number
// returns false so callers do not broadcast twice.
func (l *Ledger) Release(number int, holderID string) bool {
	h, ok := l.holds[number]
	if !ok || h.HolderID != holderID {
		return false
	}
	l.remove(h)
	return true
}

// Expire acts on a fired timer. It returns true only when the expiry still
// matches the live hold; confirm, release, force-expire or a re-claim in
// the meantime all leave a stale generation behind, and those fires are
// dropped.
func (l *Ledger) Expire(e Expiry) bool {
	h, ok := l.holds[e.Number]
	if !ok || h.HolderID != e.HolderID || h.gen != e.Gen {
		return false
	}
	l.remove(h)
	return true
}

// ForceExpire evicts whatever hold exists on number, returning the holder
// that lost it. Used when a student commit makes the number permanent
// under someone else's name.
func (l *Ledger) ForceExpire(number int) (string, bool) {
	h, ok := l.holds[number]
	if !ok {
		return "", false
	}
	l.remove(h)
	return h.HolderID, true
}

// ReleaseAllByHolder drops every hold owned by holderID and returns the
// freed numbers. Safe to call for holders with no holds.
func (l *Ledger) ReleaseAllByHolder(holderID string) []int {
	var freed []int
	for _, h := range l.holds {
		if h.HolderID == holderID {
			l.remove(h)
			freed = append(freed, h.Number)
		}
	}
	return freed
}

// IsHeld reports whether an unexpired hold exists on number.
func (l *Ledger) IsHeld(number int) bool {
	h, ok := l.holds[number]
	return ok && h.ExpiresAt.After(l.Now())
}

// HolderOf returns the owner of the live hold on number, if any.
func (l *Ledger) HolderOf(number int) (string, bool) {
	h, ok := l.holds[number]
	if !ok || !h.ExpiresAt.After(l.Now()) {
		return "", false
	}
	return h.HolderID, true
}

// Len is the number of live hold entries, expired-but-unfired included.
func (l *Ledger) Len() int { return len(l.holds) }

// Close drops every hold and disarms its timer. Called when the owning
// room shuts down.
func (l *Ledger) Close() {
	for _, h := range l.holds {
		l.remove(h)
	}
}

func (l *Ledger) remove(h *Hold) {
	if h.timer != nil {
		h.timer.Stop()
	}
	delete(l.holds, h.Number)
}
