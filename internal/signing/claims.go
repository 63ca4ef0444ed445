package signing

import "encoding/json"

// RegistrationClaim is the message a miner signs to bind a worker. The
// canonical encoding is the JSON object with keys in lexicographic order and
// no whitespace; struct field order below matches the sorted keys, which is
// exactly what encoding/json emits.
type RegistrationClaim struct {
	Hotkey           string  `json:"hotkey"`
	RegistrationTime float64 `json:"registration_time"`
	Worker           string  `json:"worker"`
}

// Canonical returns the canonical signed bytes of the claim.
func (c RegistrationClaim) Canonical() []byte {
	b, _ := json.Marshal(c)
	return b
}

// UnbindClaim is the message a miner signs to release a worker.
type UnbindClaim struct {
	Hotkey string `json:"hotkey"`
	Worker string `json:"worker"`
}

// Canonical returns the canonical signed bytes of the claim.
func (c UnbindClaim) Canonical() []byte {
	b, _ := json.Marshal(c)
	return b
}
