package emission

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	fallbackCommutePerKm     = 0.17
	fallbackElectricityPerKw = 0.4
	fallbackFlightPerKm      = 0.15
	fallbackFoodPerKg        = 2.5

	shortHaulLimitKm = 1500
	longHaulLimitKm  = 3500
)

var ErrNotLoaded = errors.New("emission_catalog_not_loaded")

// Details is the free-form attribute bag of a logged activity.
type Details map[string]any

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

// Catalog serves emission factors from an in-memory snapshot. The snapshot is
// replaced wholesale by Load and Reload; Compute never touches the database.
type Catalog struct {
	db       *gorm.DB
	log      *zap.Logger
	snapshot atomic.Pointer[map[string]Factor]
}

func NewCatalog(p Params) *Catalog {
	return &Catalog{
		db:  p.DB,
		log: p.Log.Named("emission.catalog"),
	}
}

// NewStaticCatalog returns a catalog preloaded with factors.
func NewStaticCatalog(factors []Factor) *Catalog {
	c := &Catalog{log: zap.NewNop()}
	c.store(factors)
	return c
}

// Load reads the factor table. An empty table falls back to DefaultFactors.
func (c *Catalog) Load(ctx context.Context) error {
	if c.db == nil {
		// Static catalogs have nothing to read.
		return nil
	}
	var factors []Factor
	if err := c.db.WithContext(ctx).Order("id asc").Find(&factors).Error; err != nil {
		return err
	}
	if len(factors) == 0 {
		c.log.Warn("emission.catalog.empty_table", zap.Int("defaults", len(DefaultFactors())))
		factors = DefaultFactors()
	}
	c.store(factors)
	c.log.Info("emission.catalog.loaded", zap.Int("factors", len(factors)))
	return nil
}

// Reload refreshes the snapshot. A failed read keeps the previous one.
func (c *Catalog) Reload(ctx context.Context) error {
	if err := c.Load(ctx); err != nil {
		c.log.Warn("emission.catalog.reload_failed", zap.Error(err))
		return err
	}
	return nil
}

func (c *Catalog) Loaded() bool {
	return c.snapshot.Load() != nil
}

func (c *Catalog) Size() int {
	snap := c.snapshot.Load()
	if snap == nil {
		return 0
	}
	return len(*snap)
}

func (c *Catalog) store(factors []Factor) {
	next := make(map[string]Factor, len(factors))
	for _, f := range factors {
		next[factorKey(f.Category, f.Subcategory, f.CountryCode)] = f
	}
	c.snapshot.Store(&next)
}

func (c *Catalog) lookup(category, subcategory, region string) (Factor, bool) {
	snap := c.snapshot.Load()
	if snap == nil {
		return Factor{}, false
	}
	f, ok := (*snap)[factorKey(category, subcategory, region)]
	return f, ok
}

// Compute returns kilograms of CO2 for an activity. Unknown activity types
// emit nothing; unknown subtypes use a category-wide average.
func (c *Catalog) Compute(activityType string, details Details) float64 {
	switch strings.ToLower(strings.TrimSpace(activityType)) {
	case CategoryCommute:
		return c.commute(details.String("mode"), details.Float("distance"), details.Float("passengers"))
	case CategoryElectricity:
		return c.electricity(details.Float("kwh"), details.String("countryCode"))
	case CategoryFlight:
		return c.flight(details.Float("distance"), details.String("class"))
	case CategoryFood:
		return c.food(details.String("type"), details.Float("weight"))
	default:
		return 0
	}
}

func (c *Catalog) commute(mode string, distanceKm, passengers float64) float64 {
	mode = strings.ToLower(mode)
	f, ok := c.lookup(CategoryCommute, mode, RegionGlobal)
	if !ok {
		c.log.Debug("emission.factor.missing", zap.String("category", CategoryCommute), zap.String("subcategory", mode))
		return fallbackCommutePerKm * distanceKm
	}
	total := f.Factor * distanceKm
	switch mode {
	case "car", "motorcycle", "electric_car":
		return total / max(1, passengers)
	}
	return total
}

func (c *Catalog) electricity(kwh float64, countryCode string) float64 {
	if countryCode == "" {
		countryCode = "US"
	}
	for _, region := range []string{countryCode, RegionGlobal, "US"} {
		if f, ok := c.lookup(CategoryElectricity, "grid", region); ok {
			return f.Factor * kwh
		}
	}
	c.log.Debug("emission.factor.missing", zap.String("category", CategoryElectricity), zap.String("country_code", countryCode))
	return fallbackElectricityPerKw * kwh
}

func (c *Catalog) flight(distanceKm float64, cabin string) float64 {
	haul := "short_haul"
	switch {
	case distanceKm > longHaulLimitKm:
		haul = "long_haul"
	case distanceKm >= shortHaulLimitKm:
		haul = "medium_haul"
	}
	f, ok := c.lookup(CategoryFlight, haul, RegionGlobal)
	if !ok {
		c.log.Debug("emission.factor.missing", zap.String("category", CategoryFlight), zap.String("subcategory", haul))
		return fallbackFlightPerKm * distanceKm
	}
	emissions := f.Factor * distanceKm
	switch strings.ToLower(cabin) {
	case "business":
		emissions *= 2.9
	case "first":
		emissions *= 4.0
	}
	return emissions
}

func (c *Catalog) food(kind string, weightKg float64) float64 {
	f, ok := c.lookup(CategoryFood, strings.ToLower(kind), RegionGlobal)
	if !ok {
		c.log.Debug("emission.factor.missing", zap.String("category", CategoryFood), zap.String("subcategory", kind))
		return fallbackFoodPerKg * weightKg
	}
	return f.Factor * weightKg
}

// Seed inserts DefaultFactors, keeping rows that already exist.
func Seed(ctx context.Context, db *gorm.DB) error {
	factors := DefaultFactors()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category"}, {Name: "subcategory"}, {Name: "country_code"}},
			DoNothing: true,
		}).
		Create(&factors).Error
}

// String returns the detail under key as a trimmed string.
func (d Details) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return strings.Trim(string(b), `"`)
	}
}

// Float returns the detail under key as a number; strings are parsed and
// anything unparseable is zero.
func (d Details) Float(key string) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
