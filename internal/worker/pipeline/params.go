package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
)

// paramAllowList is the fixed set of packaging parameters a job may
// override. Anything else in the override map is dropped without error:
// packaging parameters drive physical printer motion, so free-form override
// is never permitted.
var paramAllowList = map[string]bool{
	"layer_height_mm":          true,
	"bottom_layer_count":       true,
	"exposure_s":               true,
	"bottom_exposure_s":        true,
	"light_off_delay_s":        true,
	"bottom_light_off_delay_s": true,
	"lift_height_mm":           true,
	"lift_speed_mms":           true,
	"bottom_lift_height_mm":    true,
	"bottom_lift_speed_mms":    true,
	"retract_speed_mms":        true,
	"anti_alias_level":         true,
}

// LoadParams reads a packaging parameter document (flat JSON object).
func LoadParams(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params document: %w", err)
	}
	params := make(map[string]any)
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid params document: %w", err)
	}
	return params, nil
}

// MergeParams applies allow-listed overrides onto base and returns a new
// map. base is never mutated; it typically aliases the process-wide cached
// document shared by every job for the same printer.
func MergeParams(base map[string]any, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		if paramAllowList[k] {
			merged[k] = v
		}
	}
	return merged
}
