package relationship

import (
	"fmt"

	"github.com/sat8bit/nexus/configs"
	"gopkg.in/yaml.v3"
)

type ItemType string

const (
	ItemGift       ItemType = "gift"
	ItemConsumable ItemType = "consumable"
	ItemRarity     ItemType = "rarity"
)

// StatImpact はアイテム使用時に加算されるステータス差分です。
type StatImpact struct {
	Hunger   int `yaml:"hunger" json:"hunger,omitempty"`
	Energy   int `yaml:"energy" json:"energy,omitempty"`
	Mood     int `yaml:"mood" json:"mood,omitempty"`
	Affinity int `yaml:"affinity" json:"affinity,omitempty"`
}

type Item struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	Icon        string     `yaml:"icon" json:"icon"`
	Description string     `yaml:"description" json:"description"`
	Cost        int        `yaml:"cost" json:"cost"`
	Type        ItemType   `yaml:"type" json:"type"`
	StatImpact  StatImpact `yaml:"statImpact" json:"statImpact"`
}

// Catalog はショップと背景の定義です。埋め込みの YAML から読み込みます。
type Catalog struct {
	StartingCredits int      `yaml:"startingCredits" json:"startingCredits"`
	CostumeCost     int      `yaml:"costumeCost" json:"costumeCost"`
	Environments    []string `yaml:"environments" json:"environments"`
	Items           []*Item  `yaml:"items" json:"items"`
}

func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(configs.Catalog)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}
	if len(c.Environments) == 0 {
		return nil, fmt.Errorf("catalog has no environments")
	}
	return &c, nil
}

func (c *Catalog) Item(id string) (*Item, error) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownItem, id)
}

func (c *Catalog) HasEnvironment(env string) bool {
	for _, e := range c.Environments {
		if e == env {
			return true
		}
	}
	return false
}

// DefaultEnvironment は最初の背景です。
func (c *Catalog) DefaultEnvironment() string {
	return c.Environments[0]
}
