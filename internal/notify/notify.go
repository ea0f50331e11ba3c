// Package notify keeps short-lived user notifications in memory. Each user has a bounded queue;
// every entry dismisses itself after a fixed time unless it is dismissed first.
package notify

import (
	"sync"
	"time"

	"marketplace/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultTTL   = 3 * time.Second
	DefaultLimit = 5
)

type entry struct {
	n     models.Notification
	timer *time.Timer
}

type Notifier struct {
	ttl   time.Duration
	limit int

	mu     sync.Mutex
	queues map[string][]*entry
	now    func() time.Time
}

func NewNotifier(ttl time.Duration, limit int) *Notifier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Notifier{
		ttl:    ttl,
		limit:  limit,
		queues: make(map[string][]*entry),
		now:    time.Now,
	}
}

// Push queues a notification for user, evicting the oldest one when the queue is full.
func (n *Notifier) Push(user string, kind models.NotificationKind, message string) models.Notification {
	created := n.now()
	note := models.Notification{
		Id:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		CreatedAt: created,
		ExpiresAt: created.Add(n.ttl),
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	queue := n.queues[user]
	for len(queue) >= n.limit {
		queue[0].timer.Stop()
		queue = queue[1:]
	}

	e := &entry{n: note}
	e.timer = time.AfterFunc(n.ttl, func() { n.Dismiss(user, note.Id) })
	n.queues[user] = append(queue, e)

	return note
}

func (n *Notifier) Success(user, message string) models.Notification {
	return n.Push(user, models.NotifySuccess, message)
}

func (n *Notifier) Error(user, message string) models.Notification {
	return n.Push(user, models.NotifyError, message)
}

func (n *Notifier) Info(user, message string) models.Notification {
	return n.Push(user, models.NotifyInfo, message)
}

// List returns the live notifications of user, oldest first.
func (n *Notifier) List(user string) []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	queue := n.queues[user]
	result := make([]models.Notification, 0, len(queue))
	for _, e := range queue {
		result = append(result, e.n)
	}
	return result
}

// Dismiss removes a notification and stops its timer. It reports whether the notification was live.
func (n *Notifier) Dismiss(user, id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	queue := n.queues[user]
	for i, e := range queue {
		if e.n.Id != id {
			continue
		}
		e.timer.Stop()
		queue = append(queue[:i:i], queue[i+1:]...)
		if len(queue) == 0 {
			delete(n.queues, user)
		} else {
			n.queues[user] = queue
		}
		return true
	}
	return false
}
