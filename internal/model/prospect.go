// Package model holds the records the batch pipelines read and write.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Prospect is a contact inside a prospect group. Name is the field the
// transliteration pipeline rewrites.
type Prospect struct {
	ID        string          `json:"id"`
	GroupID   string          `json:"prospect_group_id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// HasName reports whether the prospect has a non-blank name to transform.
func (p Prospect) HasName() bool {
	return strings.TrimSpace(p.Name) != ""
}
