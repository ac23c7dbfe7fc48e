package database

import (
	"database/sql/driver"
	"errors"
)

// JSONText stores an arbitrary JSON document in a text column. It works
// the same way across PostgreSQL, MySQL, and SQLite, which all accept
// JSON serialized into text.
type JSONText []byte

// Scan implements the sql.Scanner interface for reading from the database.
func (j *JSONText) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		buf := make([]byte, len(v))
		copy(buf, v)
		*j = buf
		return nil
	case string:
		*j = JSONText(v)
		return nil
	default:
		return errors.New("JSONText: unsupported scan type")
	}
}

// Value implements the driver.Valuer interface for writing to the database.
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// GormDataType returns the GORM data type hint.
func (JSONText) GormDataType() string {
	return "text"
}
