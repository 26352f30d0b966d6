package emission

import (
	"strings"
	"time"
)

const (
	CategoryCommute     = "commute"
	CategoryElectricity = "electricity"
	CategoryFlight      = "flight"
	CategoryFood        = "food"

	RegionGlobal = "GLOBAL"
)

// Factor is kilograms of CO2 per unit of an activity.
type Factor struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Category    string    `gorm:"size:64;not null;uniqueIndex:ux_emission_factor,priority:1" json:"category"`
	Subcategory string    `gorm:"size:64;not null;uniqueIndex:ux_emission_factor,priority:2" json:"subcategory"`
	CountryCode string    `gorm:"size:16;not null;default:GLOBAL;uniqueIndex:ux_emission_factor,priority:3" json:"country_code"`
	Factor      float64   `gorm:"not null" json:"factor"`
	Unit        string    `gorm:"type:text;not null" json:"unit"`
	Source      string    `gorm:"type:text" json:"source,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Factor) TableName() string { return "emission_factors" }

func factorKey(category, subcategory, region string) string {
	if region == "" {
		region = RegionGlobal
	}
	return strings.ToLower(category + ":" + subcategory + ":" + region)
}

// DefaultFactors is the seed table used when the database holds none.
func DefaultFactors() []Factor {
	return []Factor{
		{Category: CategoryCommute, Subcategory: "car", CountryCode: RegionGlobal, Factor: 0.192, Unit: "km", Source: "DEFRA 2023"},
		{Category: CategoryCommute, Subcategory: "bus", CountryCode: RegionGlobal, Factor: 0.05, Unit: "km", Source: "DEFRA 2023"},
		{Category: CategoryCommute, Subcategory: "train", CountryCode: RegionGlobal, Factor: 0.041, Unit: "km", Source: "DEFRA 2023"},
		{Category: CategoryCommute, Subcategory: "bike", CountryCode: RegionGlobal, Factor: 0, Unit: "km", Source: "Zero emissions"},
		{Category: CategoryCommute, Subcategory: "walk", CountryCode: RegionGlobal, Factor: 0, Unit: "km", Source: "Zero emissions"},
		{Category: CategoryCommute, Subcategory: "motorcycle", CountryCode: RegionGlobal, Factor: 0.113, Unit: "km", Source: "DEFRA 2023"},
		{Category: CategoryCommute, Subcategory: "electric_car", CountryCode: RegionGlobal, Factor: 0.053, Unit: "km", Source: "DEFRA 2023"},
		{Category: CategoryElectricity, Subcategory: "grid", CountryCode: "US", Factor: 0.5, Unit: "kwh", Source: "EPA 2023"},
		{Category: CategoryElectricity, Subcategory: "grid", CountryCode: "GB", Factor: 0.233, Unit: "kwh", Source: "UK Gov 2023"},
		{Category: CategoryElectricity, Subcategory: "grid", CountryCode: "IN", Factor: 0.709, Unit: "kwh", Source: "CEA 2023"},
		{Category: CategoryFlight, Subcategory: "short_haul", CountryCode: RegionGlobal, Factor: 0.255, Unit: "km", Source: "DEFRA 2023"},
		{Category: CategoryFlight, Subcategory: "medium_haul", CountryCode: RegionGlobal, Factor: 0.156, Unit: "km", Source: "DEFRA 2023"},
		{Category: CategoryFlight, Subcategory: "long_haul", CountryCode: RegionGlobal, Factor: 0.15, Unit: "km", Source: "DEFRA 2023"},
		{Category: CategoryFood, Subcategory: "beef", CountryCode: RegionGlobal, Factor: 27.0, Unit: "kg", Source: "Poore & Nemecek 2018"},
		{Category: CategoryFood, Subcategory: "lamb", CountryCode: RegionGlobal, Factor: 24.5, Unit: "kg", Source: "Poore & Nemecek 2018"},
		{Category: CategoryFood, Subcategory: "pork", CountryCode: RegionGlobal, Factor: 7.2, Unit: "kg", Source: "Poore & Nemecek 2018"},
		{Category: CategoryFood, Subcategory: "chicken", CountryCode: RegionGlobal, Factor: 6.1, Unit: "kg", Source: "Poore & Nemecek 2018"},
		{Category: CategoryFood, Subcategory: "fish", CountryCode: RegionGlobal, Factor: 5.1, Unit: "kg", Source: "Poore & Nemecek 2018"},
		{Category: CategoryFood, Subcategory: "vegetables", CountryCode: RegionGlobal, Factor: 0.4, Unit: "kg", Source: "Poore & Nemecek 2018"},
	}
}
