// Package effect turns due schedule rows into the side effect the daemon has to perform.
//
// The functions here are pure: they never touch the store or the message bus,
// the daemon loop executes the returned Effect.
package effect

import (
	"fmt"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/dto"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
)

type Kind int

const (
	KindPublish Kind = iota + 1
	KindMutateStatus
)

func (k Kind) String() string {
	switch k {
	case KindPublish:
		return "publish"
	case KindMutateStatus:
		return "mutate_status"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MinMessageTTL is the expiration floor for games that start imminently
const MinMessageTTL = 60 * time.Second

// Effect is a tagged result: Message is set for KindPublish, From/To for KindMutateStatus
type Effect struct {
	Kind    Kind
	Message dto.NotificationDue
	From    entity.GameStatus
	To      entity.GameStatus
}

// Publish builds a publish effect
func Publish(msg dto.NotificationDue) Effect {
	return Effect{Kind: KindPublish, Message: msg}
}

// MutateStatus builds a status mutation effect that only applies while the game is in from
func MutateStatus(from, to entity.GameStatus) Effect {
	return Effect{Kind: KindMutateStatus, From: from, To: to}
}

// Applies reports whether the effect may run against a game with the given status
func (e Effect) Applies(current entity.GameStatus) bool {
	if e.Kind != KindMutateStatus {
		return true
	}
	return current == e.From
}

// ForNotification builds the "notification due" message for a scheduled notification
func ForNotification(n entity.NotificationSchedule, now time.Time) (Effect, error) {
	msg := dto.NewNotificationDueFromEntity(n)
	if n.GameScheduledAt != nil {
		ttl := MessageTTL(*n.GameScheduledAt, now)
		ms := ttl.Milliseconds()
		msg.ExpirationMs = &ms
	}
	return Publish(msg), nil
}

// MessageTTL returns how long a notification about a game starting at scheduledAt stays relevant
func MessageTTL(scheduledAt, now time.Time) time.Duration {
	ttl := scheduledAt.Sub(now)
	if ttl < MinMessageTTL {
		return MinMessageTTL
	}
	return ttl
}

// ForStatusTransition builds the status mutation of a scheduled transition
func ForStatusTransition(s entity.GameStatusSchedule, _ time.Time) (Effect, error) {
	from, err := PreviousStatus(s.TargetStatus)
	if err != nil {
		return Effect{}, err
	}
	return MutateStatus(from, s.TargetStatus), nil
}

// PreviousStatus returns the status a game must have for a transition to target to apply
func PreviousStatus(target entity.GameStatus) (entity.GameStatus, error) {
	switch target {
	case entity.GameStatusInProgress:
		return entity.GameStatusScheduled, nil
	case entity.GameStatusCompleted:
		return entity.GameStatusInProgress, nil
	default:
		return "", fmt.Errorf("unsupported transition target status %q", target)
	}
}
