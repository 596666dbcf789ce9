package inventory

import (
	"time"

	"github.com/gofrs/uuid"
)

// Product is the slice of the catalog record the checkout core reads and
// locks. Catalog fields are owned elsewhere; only Stock is written here.
type Product struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	ImageURL  string    `json:"image_url" db:"image_url"`
	Price     int64     `json:"price" db:"price"`
	Stock     int       `json:"stock" db:"stock"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
