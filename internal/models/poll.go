package models

import (
	"time"

	"github.com/google/uuid"
)

// Poll is a titled list of options that sessions vote on.
type Poll struct {
	ID        uuid.UUID    `json:"id"`
	CreatorID uuid.UUID    `json:"creatorId"`
	Title     string       `json:"title"`
	Options   []PollOption `json:"options"`
	IsClosed  bool         `json:"isClosed"`
	CreatedAt time.Time    `json:"createdAt"`
}

// PollOption is one choice in a poll. ID is 1..N in creation order.
type PollOption struct {
	ID    int    `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// HasOption reports whether optionID exists in the poll.
func (p *Poll) HasOption(optionID int) bool {
	for _, o := range p.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// NewOptions numbers texts 1..N with zero votes.
func NewOptions(texts []string) []PollOption {
	out := make([]PollOption, len(texts))
	for i, t := range texts {
		out[i] = PollOption{ID: i + 1, Text: t}
	}
	return out
}
