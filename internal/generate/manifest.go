package generate

import "encoding/json"

func parseManifestScripts(content string) (map[string]string, error) {
	var m manifestScripts
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return nil, err
	}
	if m.Scripts == nil {
		return map[string]string{}, nil
	}
	return m.Scripts, nil
}
