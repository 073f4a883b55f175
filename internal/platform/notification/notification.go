// Package notification keeps a short, per-practitioner feed of outcome
// notices (accepted, rejected, failed) with in-memory storage and Echo HTTP
// handlers. Notices are transient: the feed is capped and old entries expire.
package notification

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lunysse/lunysse/internal/platform/auth"
)

// ---------------------------------------------------------------------------
// Notice
// ---------------------------------------------------------------------------

// Level is the severity of a notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notice is a single user-facing message.
type Notice struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Level          Level     `json:"level"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// Defaults for NewBoard.
const (
	DefaultCapacity = 50
	DefaultTTL      = 10 * time.Minute
)

// ---------------------------------------------------------------------------
// Board
// ---------------------------------------------------------------------------

// Board stores notices per practitioner, newest last.
type Board struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	notices map[uuid.UUID][]Notice
}

// NewBoard creates a Board holding at most capacity notices per practitioner
// for at most ttl each. Non-positive values select the defaults.
func NewBoard(capacity int, ttl time.Duration) *Board {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Board{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		notices:  make(map[uuid.UUID][]Notice),
	}
}

// Notify records a notice. The oldest notice is dropped once the
// practitioner's feed is full.
func (b *Board) Notify(practitionerID uuid.UUID, level, message string) {
	n := Notice{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Level:          Level(level),
		Message:        message,
		CreatedAt:      b.now().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	feed := append(b.prune(b.notices[practitionerID]), n)
	if len(feed) > b.capacity {
		feed = feed[len(feed)-b.capacity:]
	}
	b.notices[practitionerID] = feed
}

// List returns the practitioner's live notices, oldest first.
func (b *Board) List(practitionerID uuid.UUID) []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	feed := b.prune(b.notices[practitionerID])
	b.notices[practitionerID] = feed
	out := make([]Notice, len(feed))
	copy(out, feed)
	return out
}

// Dismiss removes a notice from the practitioner's feed.
func (b *Board) Dismiss(practitionerID, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	feed := b.notices[practitionerID]
	for i, n := range feed {
		if n.ID == id {
			b.notices[practitionerID] = append(feed[:i:i], feed[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("notice %s not found", id)
}

// prune drops expired notices. Callers hold b.mu.
func (b *Board) prune(feed []Notice) []Notice {
	cutoff := b.now().UTC().Add(-b.ttl)
	i := 0
	for i < len(feed) && feed[i].CreatedAt.Before(cutoff) {
		i++
	}
	return feed[i:]
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes the signed-in practitioner's notices over HTTP via Echo.
type Handler struct {
	board *Board
}

func NewHandler(board *Board) *Handler {
	return &Handler{board: board}
}

// RegisterRoutes registers the notice routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notices", h.HandleList)
	g.DELETE("/notices/:id", h.HandleDismiss)
}

// HandleList handles GET /notices.
func (h *Handler) HandleList(c echo.Context) error {
	pid, err := auth.PractitionerIDFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return c.JSON(http.StatusOK, h.board.List(pid))
}

// HandleDismiss handles DELETE /notices/:id.
func (h *Handler) HandleDismiss(c echo.Context) error {
	pid, err := auth.PractitionerIDFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.board.Dismiss(pid, id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
