package model

import "time"

// Project is the tenant boundary. MaxConcurrent is the optional per-project
// override of the global concurrency ceiling; values <= 0 mean "no override".
type Project struct {
	ID                  string
	MaxConcurrent       int
	CurrentModelVersion int64
	CurrentModelRef     string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// EffectiveCeiling resolves the binding concurrency limit for a project.
// A positive override tightens the global ceiling; the global ceiling itself
// is unlimited when <= 0. Returns <= 0 to signal "unlimited".
func EffectiveCeiling(global, override int) int {
	if override > 0 {
		if global > 0 && global < override {
			return global
		}
		return override
	}
	return global
}
