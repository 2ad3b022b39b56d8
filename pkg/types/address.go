package types

import (
	"database/sql/driver"
	"strings"
)

// Address is the delivery address captured at checkout and copied onto the order.
type Address struct {
	Name       string  `json:"name" validate:"required"`
	Line1      string  `json:"line1" validate:"required"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city" validate:"required"`
	State      string  `json:"state"`
	PostalCode string  `json:"postal_code" validate:"required"`
	Country    string  `json:"country" validate:"omitempty,len=2"`
	Phone      *string `json:"phone,omitempty"`
}

// Normalize trims fields and defaults the country to US.
func (a Address) Normalize() Address {
	a.Name = strings.TrimSpace(a.Name)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Country == "" {
		a.Country = "US"
	}
	return a
}

// IsZero reports whether no address was captured, which is valid for
// all-digital carts.
func (a Address) IsZero() bool {
	return a.Line1 == "" && a.City == "" && a.PostalCode == ""
}

// Value stores the address as a JSON document.
func (a Address) Value() (driver.Value, error) {
	return valueJSON(a)
}

// Scan reads the JSON document written by Value.
func (a *Address) Scan(src any) error {
	return scanJSON(src, a)
}
