package service

func setIfPresent(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
