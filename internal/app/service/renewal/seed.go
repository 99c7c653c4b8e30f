package renewal

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pulsetel/simhub/internal/models"
	cfgpkg "github.com/pulsetel/simhub/pkg/config"
	"github.com/pulsetel/simhub/pkg/tool"
	"github.com/pulsetel/simhub/pkg/types"
)

// seedCatalog are the development packages installed when the catalog is
// empty and seeding is enabled. Production catalogs are managed out of
// band.
var seedCatalog = []models.RenewalPackage{
	{Provider: types.ProviderAirhub, Name: "Global 3GB, 30 Days", PackageID: "AH-G3-30", DataAmount: "3 GB", ValidityDays: 30, PriceCentsUSD: 1500, CountryCode: "", Active: true},
	{Provider: types.ProviderESIMCard, Name: "USA 5GB, 30 Days", PackageID: "EC-US5-30", DataAmount: "5 GB", ValidityDays: 30, PriceCentsUSD: 1900, CountryCode: "US", Active: true},
	{Provider: types.ProviderTravelRoam, Name: "eSIM, 1GB, 7 Days, Turkey, V2", PackageID: "", DataAmount: "1 GB", ValidityDays: 7, PriceCentsUSD: 450, CountryCode: "TR", Active: true},
	{Provider: types.ProviderTravelRoam, Name: "eSIM, 5GB, 30 Days, Europe, V2", PackageID: "esim_5gb_30d_eu_u", DataAmount: "5 GB", ValidityDays: 30, PriceCentsUSD: 1250, CountryCode: "EU", Active: true},
}

// SeedPackages installs the development catalog when enabled and the table
// is empty. Idempotent; never overwrites existing rows.
func SeedPackages(cfg *cfgpkg.Config, db *gorm.DB, log *zap.SugaredLogger) error {
	if !cfg.SeedPackages {
		return nil
	}
	var count int64
	if err := db.Model(&models.RenewalPackage{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for i := range seedCatalog {
		seedCatalog[i].ID = tool.GenerateUUIDV7()
	}
	if err := db.Create(&seedCatalog).Error; err != nil {
		return err
	}
	log.Infow("seeded renewal package catalog", "packages", len(seedCatalog))
	return nil
}
