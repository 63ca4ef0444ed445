package models

// WorkerBinding asserts that a pool worker belongs to a hotkey. Rows are
// created once, optionally marked unbound once, and never deleted; the worker
// name stays claimed forever.
type WorkerBinding struct {
	Worker              string  `gorm:"primaryKey" json:"worker"`
	Hotkey              string  `gorm:"index;not null" json:"hotkey"`
	RegistrationTime    float64 `gorm:"not null" json:"registration_time"`
	RegistrationTimeInt int64   `gorm:"index;not null" json:"registration_time_int"`
	Signature           string  `gorm:"not null" json:"signature"`
	UnbindSignature     *string `json:"unbind_signature,omitempty"`
}

func (WorkerBinding) TableName() string { return "worker_binding" }

// Active reports whether the binding still counts toward the hotkey's quota.
func (b WorkerBinding) Active() bool { return b.UnbindSignature == nil }
