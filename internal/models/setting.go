package models

// Setting is a generic key/value row for small bits of durable state, such as
// the last successful weight publication time.
type Setting struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"not null"`
}

func (Setting) TableName() string { return "setting" }
