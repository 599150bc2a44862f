package catalog

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// StringList 接受單一字串或字串陣列的 YAML 值
type StringList []string

// UnmarshalYAML 實作 yaml.Unmarshaler
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var vals []string
		if err := node.Decode(&vals); err != nil {
			return err
		}
		*l = vals
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list", node.Line)
	}
}

type fixtureRecipe struct {
	ID              string                `yaml:"id"`
	Title           string                `yaml:"title"`
	Description     string                `yaml:"description"`
	CookTimeMinutes *int                  `yaml:"cook_time_minutes"`
	Servings        int                   `yaml:"servings"`
	SourceName      string                `yaml:"source_name"`
	SourceURL       string                `yaml:"source_url"`
	ImageURL        string                `yaml:"image_url"`
	UpdatedAt       time.Time             `yaml:"updated_at"`
	Tags            map[string]StringList `yaml:"tags"`
	TagSource       string                `yaml:"tag_source"`
}

type fixtureDoc struct {
	Recipes []fixtureRecipe `yaml:"recipes"`
}

// ParseFixture 解析 YAML 食譜種子資料（讀取 recipes 區段）
func ParseFixture(data []byte) ([]Recipe, error) {
	var doc fixtureDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse recipe fixture: %w", err)
	}

	out := make([]Recipe, 0, len(doc.Recipes))
	seen := make(map[string]struct{}, len(doc.Recipes))
	for i, fr := range doc.Recipes {
		if fr.ID == "" || fr.Title == "" {
			return nil, fmt.Errorf("parse recipe fixture: recipe %d requires id and title", i)
		}
		if _, dup := seen[fr.ID]; dup {
			return nil, fmt.Errorf("parse recipe fixture: duplicate recipe id %q", fr.ID)
		}
		seen[fr.ID] = struct{}{}

		// map 迭代順序不固定，先排序維度
		dims := make([]string, 0, len(fr.Tags))
		for d := range fr.Tags {
			dims = append(dims, d)
		}
		sort.Strings(dims)

		var tags []Tag
		for _, d := range dims {
			for _, v := range fr.Tags[d] {
				tags = append(tags, Tag{Dimension: d, Value: v, Source: fr.TagSource, Confidence: 1})
			}
		}

		out = append(out, Recipe{
			ID:              fr.ID,
			Title:           fr.Title,
			NormalizedTitle: NormalizeTitle(fr.Title),
			Description:     fr.Description,
			CookTimeMinutes: fr.CookTimeMinutes,
			Servings:        fr.Servings,
			SourceName:      fr.SourceName,
			SourceURL:       fr.SourceURL,
			ImageURL:        fr.ImageURL,
			Tags:            tags,
			UpdatedAt:       fr.UpdatedAt,
		})
	}
	return out, nil
}

// LoadFixture 從檔案載入食譜種子資料
func LoadFixture(path string) ([]Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe fixture: %w", err)
	}
	return ParseFixture(data)
}
