package shortener

import (
	"time"

	"github.com/google/uuid"
)

// ShortLink maps a short code to a target URL, owned by one user.
type ShortLink struct {
	ID        int64     `json:"id"`
	ShortCode string    `json:"short_code"`
	TargetURL string    `json:"target_url"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
