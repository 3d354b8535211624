package render

// MergeContent deep-merges override onto base. Maps merge key by key; lists and scalars
// from override replace the base value. Neither input is modified.
func MergeContent(base any, override any) any {
	baseMap, baseIsMap := Normalize(base).(map[string]any)
	overrideMap, overrideIsMap := Normalize(override).(map[string]any)
	if !baseIsMap || !overrideIsMap {
		return Normalize(override)
	}
	merged := make(map[string]any, len(baseMap)+len(overrideMap))
	for key, value := range baseMap {
		merged[key] = value
	}
	for key, overrideValue := range overrideMap {
		if baseValue, exists := merged[key]; exists {
			merged[key] = MergeContent(baseValue, overrideValue)
			continue
		}
		merged[key] = overrideValue
	}
	return merged
}
