package models

// PeerSyncOffset remembers how far into a peer validator's registry we have
// merged. LastRegistrationTime only ever moves forward.
type PeerSyncOffset struct {
	PeerHotkey           string  `gorm:"primaryKey" json:"peer_hotkey"`
	LastRegistrationTime float64 `gorm:"not null" json:"last_registration_time"`
	LastSyncTime         float64 `gorm:"not null" json:"last_sync_time"`
}

func (PeerSyncOffset) TableName() string { return "peer_sync_offset" }
