package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPaid       Status = "PAID"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusReturned   Status = "RETURNED"
	StatusRefunded   Status = "REFUNDED"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Actor is the authenticated caller, passed explicitly into every
// service call.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanAccess reports whether the actor may read or act on an order owned
// by ownerID.
func (a Actor) CanAccess(ownerID uuid.UUID) bool {
	return a.IsAdmin() || a.ID == ownerID
}

// ShippingAddress is snapshotted onto the order at creation and never
// updated afterwards.
type ShippingAddress struct {
	FullName   string `json:"full_name" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

// Scan implements sql.Scanner for the JSONB column.
func (a *ShippingAddress) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	case nil:
		return errors.New("shipping address is null")
	default:
		return fmt.Errorf("unsupported shipping address type %T", src)
	}
}

type OrderItem struct {
	ID           uuid.UUID `json:"id" db:"id"`
	OrderID      uuid.UUID `json:"order_id" db:"order_id"`
	ProductID    uuid.UUID `json:"product_id" db:"product_id"`
	ProductTitle string    `json:"product_title" db:"product_title"`
	ProductImage string    `json:"product_image" db:"product_image"`
	Quantity     int       `json:"quantity" db:"quantity"`
	PricePerUnit int64     `json:"price_per_unit" db:"price_per_unit"`
	TotalPrice   int64     `json:"total_price" db:"total_price"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	OrderNumber     string          `json:"order_number" db:"order_number"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	Status          Status          `json:"status" db:"status"`
	Subtotal        int64           `json:"subtotal" db:"subtotal"`
	Tax             int64           `json:"tax" db:"tax"`
	ShippingCharge  int64           `json:"shipping_charge" db:"shipping_charge"`
	Discount        int64           `json:"discount" db:"discount"`
	TotalAmount     int64           `json:"total_amount" db:"total_amount"`
	ShippingAddress ShippingAddress `json:"shipping_address" db:"shipping_address"`
	CancelReason    *string         `json:"cancel_reason,omitempty" db:"cancel_reason"`
	Items           []OrderItem     `json:"items" db:"-"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

type Tracking struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrderID   uuid.UUID `json:"order_id" db:"order_id"`
	Status    Status    `json:"status" db:"status"`
	Note      *string   `json:"note,omitempty" db:"note"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

type CreateOrderInput struct {
	UserID          uuid.UUID
	Items           []ItemInput
	ShippingAddress ShippingAddress
}
