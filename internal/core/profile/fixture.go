package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fixtureDoc struct {
	Profiles []TasteProfile `yaml:"profiles"`
}

// ParseFixture 解析 YAML 種子資料（讀取 profiles 區段）
func ParseFixture(data []byte) ([]*TasteProfile, error) {
	var doc fixtureDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profile fixture: %w", err)
	}
	out := make([]*TasteProfile, 0, len(doc.Profiles))
	for i := range doc.Profiles {
		if doc.Profiles[i].UserID == "" {
			return nil, fmt.Errorf("parse profile fixture: profile %d has no user_id", i)
		}
		out = append(out, &doc.Profiles[i])
	}
	return out, nil
}

// LoadFixture 從檔案載入口味檔案種子資料
func LoadFixture(path string) ([]*TasteProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile fixture: %w", err)
	}
	return ParseFixture(data)
}
