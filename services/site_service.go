package services

import (
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"enom_tracker/models"
)

// SiteService справочник базовых станций
type SiteService struct {
	*Base
}

func NewSiteService(base *Base) *SiteService {
	return &SiteService{Base: base}
}

// SiteInput данные сайта
type SiteInput struct {
	SiteCode   string  `json:"site_id" validate:"required"`
	Name       string  `json:"name" validate:"required,max=100"`
	TowerOwner string  `json:"tower_owner" validate:"max=100"`
	Latitude   float64 `json:"lat" validate:"gte=-90,lte=90"`
	Longitude  float64 `json:"long" validate:"gte=-180,lte=180"`
	Region     string  `json:"kabupaten" validate:"max=100"`
}

// UpsertSites создает или обновляет сайты по коду (загрузка справочника диспетчером)
func (s *SiteService) UpsertSites(inputs []SiteInput, actor Actor) (int, error) {
	if !actor.IsDispatcher() {
		return 0, PermissionDeniedf("справочник сайтов изменяет только диспетчер")
	}
	if len(inputs) == 0 {
		return 0, nil
	}

	now := s.now()
	sites := make([]models.Site, 0, len(inputs))
	for _, in := range inputs {
		in.SiteCode = strings.TrimSpace(in.SiteCode)
		if err := validateStruct(in); err != nil {
			return 0, err
		}
		if !models.IsValidSiteCode(in.SiteCode) {
			return 0, Validationf("некорректный код сайта %q", in.SiteCode)
		}
		sites = append(sites, models.Site{
			SiteCode:   in.SiteCode,
			Name:       in.Name,
			TowerOwner: in.TowerOwner,
			Latitude:   in.Latitude,
			Longitude:  in.Longitude,
			Region:     in.Region,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "site_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "tower_owner", "latitude", "longitude", "region", "updated_at"}),
	}).CreateInBatches(&sites, 200).Error
	if err != nil {
		return 0, err
	}

	s.Logger.Info("sites upserted", zap.Int("count", len(sites)), zap.String("actor", actor.Username))
	return len(sites), nil
}

// GetSite сайт по коду
func (s *SiteService) GetSite(code string) (*models.Site, error) {
	return loadSiteByCode(s.DB, strings.TrimSpace(code))
}

// ListSites сайты по коду, с поиском по коду, названию и кабупатену
func (s *SiteService) ListSites(search string) ([]models.Site, error) {
	query := s.DB.Model(&models.Site{})
	if search = strings.TrimSpace(search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(site_code) LIKE ? OR LOWER(name) LIKE ? OR LOWER(region) LIKE ?", like, like, like)
	}
	var sites []models.Site
	err := query.Order("site_code").Find(&sites).Error
	return sites, err
}
