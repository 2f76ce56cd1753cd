package types

// FieldChange is a before/after pair for one compared field.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// ModifiedStore describes a store whose fingerprint changed between runs.
type ModifiedStore struct {
	StoreID       string                 `json:"store_id"`
	FieldsChanged map[string]FieldChange `json:"fields_changed"`
}

// ChangeReport is the diff between the previous and current store lists.
// Persisted at data/{retailer}/history/changes_YYYY-MM-DD.json.
type ChangeReport struct {
	New            []Store         `json:"new"`
	Closed         []Store         `json:"closed"`
	Modified       []ModifiedStore `json:"modified"`
	UnchangedCount int             `json:"unchanged_count"`
	TotalCurrent   int             `json:"total_current"`
	// CollisionCount is the number of identity-key collisions that were
	// disambiguated with a numeric suffix.
	CollisionCount int `json:"collision_count,omitempty"`
}
