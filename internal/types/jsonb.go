package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*LineItems)(nil)
	_ driver.Valuer = LineItems(nil)
	_ sql.Scanner   = (*ShippingAddress)(nil)
	_ driver.Valuer = ShippingAddress{}
	_ sql.Scanner   = (*PaymentResult)(nil)
	_ driver.Valuer = PaymentResult{}
)

// scanJSONB scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (li *LineItems) Scan(value interface{}) error {
	if value == nil {
		*li = LineItems{}
		return nil
	}
	var items []LineItem
	if err := scanJSONB(&items, value); err != nil {
		return err
	}
	if items == nil {
		items = []LineItem{}
	}
	*li = items
	return nil
}

// Value implements the driver.Valuer interface. A nil list is stored as an
// empty JSON array so the column stays NOT NULL.
func (li LineItems) Value() (driver.Value, error) {
	if li == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]LineItem(li))
}

// Scan implements the sql.Scanner interface.
func (a *ShippingAddress) Scan(value interface{}) error {
	return scanJSONB(a, value)
}

// Value implements the driver.Valuer interface.
func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface.
func (p *PaymentResult) Scan(value interface{}) error {
	return scanJSONB(p, value)
}

// Value implements the driver.Valuer interface.
func (p PaymentResult) Value() (driver.Value, error) {
	return json.Marshal(p)
}
