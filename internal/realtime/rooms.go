package realtime

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
)

// Rooms maps conversations to the users whose sessions should receive their
// traffic. Membership is verified against the store on every admission, never
// cached across connections, so a user removed from a group stops receiving
// its traffic at their next join.
type Rooms struct {
	registry *Registry
	convs    repositories.ConversationRepository

	mu      sync.RWMutex
	members map[int]map[int]struct{}
}

// NewRooms constructs an empty room table.
func NewRooms(registry *Registry, convs repositories.ConversationRepository) *Rooms {
	return &Rooms{
		registry: registry,
		convs:    convs,
		members:  make(map[int]map[int]struct{}),
	}
}

// Admit joins the user to each requested conversation they are currently a
// participant of and returns the ids actually joined. Unknown or foreign ids
// are dropped without error so callers cannot probe room membership.
func (r *Rooms) Admit(ctx context.Context, userID int, conversationIDs []int) ([]int, error) {
	joined := make([]int, 0, len(conversationIDs))
	for _, conversationID := range conversationIDs {
		member, err := r.convs.IsParticipant(ctx, conversationID, userID)
		if err != nil {
			return joined, err
		}
		if !member {
			continue
		}

		r.mu.Lock()
		if _, ok := r.members[conversationID]; !ok {
			r.members[conversationID] = make(map[int]struct{})
		}
		r.members[conversationID][userID] = struct{}{}
		r.mu.Unlock()

		joined = append(joined, conversationID)
	}
	return joined, nil
}

// Leave removes the user from every room. Called when their connection goes
// away.
func (r *Rooms) Leave(userID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conversationID, members := range r.members {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.members, conversationID)
		}
	}
}

// Broadcast fans the event out to every admitted member with an active
// session. Delivery is fire-and-forget: a member without a session, or whose
// send fails, is skipped with no retry or queueing. Clients recover missed
// state by re-fetching history on reconnect.
func (r *Rooms) Broadcast(conversationID int, event any) {
	r.mu.RLock()
	members := make([]int, 0, len(r.members[conversationID]))
	for userID := range r.members[conversationID] {
		members = append(members, userID)
	}
	r.mu.RUnlock()

	for _, userID := range members {
		session, ok := r.registry.Lookup(userID)
		if !ok {
			observability.IncBroadcast("unreachable")
			continue
		}
		if err := session.Send(event); err != nil {
			logrus.WithFields(logrus.Fields{
				"conversation_id": conversationID,
				"user_id":         userID,
			}).WithError(err).Warn("broadcast delivery dropped")
			observability.IncBroadcast("dropped")
			continue
		}
		observability.IncBroadcast("delivered")
	}
}
