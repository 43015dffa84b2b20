package services

import (
	"halaqat_go/access"
	"halaqat_go/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type CatalogItemInput struct {
	Name          string `json:"name" validate:"required,max=255"`
	Description   string `json:"description"`
	PointsCost    int    `json:"points_cost" validate:"gte=0"`
	BadgesCost    int    `json:"badges_cost" validate:"gte=0"`
	Scope         string `json:"scope" validate:"required,oneof=student group"`
	StockQuantity *int   `json:"stock_quantity" validate:"omitempty,gte=0"`
	IsActive      *bool  `json:"is_active"`
	// Global items are only created by super admins; they leave CenterID empty.
	CenterID *uint `json:"center_id"`
}

type CatalogFilter struct {
	Scope      string
	ActiveOnly bool
	Pagination
}

type CatalogService struct {
	db *gorm.DB
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{db: db}
}

func validateItem(in CatalogItemInput) error {
	var flds []FieldError
	if in.Name == "" {
		flds = append(flds, FieldError{Field: "name", Error: "name is required"})
	}
	if in.PointsCost < 0 {
		flds = append(flds, FieldError{Field: "points_cost", Error: "must not be negative"})
	}
	if in.BadgesCost < 0 {
		flds = append(flds, FieldError{Field: "badges_cost", Error: "must not be negative"})
	}
	if in.Scope != models.ScopeStudent && in.Scope != models.ScopeGroup {
		flds = append(flds, FieldError{Field: "scope", Error: "scope must be student or group"})
	}
	if in.Scope == models.ScopeGroup && in.BadgesCost > 0 {
		flds = append(flds, FieldError{Field: "badges_cost", Error: "group items are paid in points only"})
	}
	if in.StockQuantity != nil && *in.StockQuantity < 0 {
		flds = append(flds, FieldError{Field: "stock_quantity", Error: "must not be negative"})
	}
	if len(flds) > 0 {
		return NewValidationError("invalid catalog item", flds...)
	}
	return nil
}

// Create adds an item to the actor's center, or a global item for super admins.
func (s *CatalogService) Create(actor access.Actor, in CatalogItemInput) (*models.CatalogItem, error) {
	if err := requireCapability(actor, access.ManageCatalog); err != nil {
		return nil, err
	}
	if err := validateItem(in); err != nil {
		return nil, err
	}
	centerID := actor.CenterID
	if actor.IsGlobal() {
		centerID = in.CenterID
	}
	item := &models.CatalogItem{
		CenterID:      centerID,
		Name:          in.Name,
		Description:   in.Description,
		PointsCost:    in.PointsCost,
		BadgesCost:    in.BadgesCost,
		Scope:         in.Scope,
		StockQuantity: in.StockQuantity,
		IsActive:      in.IsActive == nil || *in.IsActive,
	}
	if err := s.db.Create(item).Error; err != nil {
		return nil, errors.Wrap(err, "create catalog item")
	}
	return item, nil
}

func (s *CatalogService) load(id uint) (*models.CatalogItem, error) {
	var item models.CatalogItem
	if err := s.db.First(&item, id).Error; err != nil {
		return nil, lookup(err, "catalog item")
	}
	return &item, nil
}

// editable checks the actor may change the item: global items belong to super admins.
func editable(actor access.Actor, item *models.CatalogItem) error {
	if actor.IsGlobal() {
		return nil
	}
	if item.CenterID == nil || !actor.InCenter(*item.CenterID) {
		return forbidden("catalog item belongs to another center")
	}
	return nil
}

// visible reports whether the item is offered to the actor's center.
func visible(actor access.Actor, item *models.CatalogItem) bool {
	return item.CenterID == nil || actor.InCenter(*item.CenterID)
}

func (s *CatalogService) Get(actor access.Actor, id uint) (*models.CatalogItem, error) {
	item, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if !visible(actor, item) {
		return nil, notFound("catalog item")
	}
	return item, nil
}

func (s *CatalogService) Update(actor access.Actor, id uint, in CatalogItemInput) (*models.CatalogItem, error) {
	if err := requireCapability(actor, access.ManageCatalog); err != nil {
		return nil, err
	}
	if err := validateItem(in); err != nil {
		return nil, err
	}
	item, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if err := editable(actor, item); err != nil {
		return nil, err
	}
	item.Name = in.Name
	item.Description = in.Description
	item.PointsCost = in.PointsCost
	item.BadgesCost = in.BadgesCost
	item.Scope = in.Scope
	item.StockQuantity = in.StockQuantity
	if in.IsActive != nil {
		item.IsActive = *in.IsActive
	}
	if err := s.db.Save(item).Error; err != nil {
		return nil, errors.Wrap(err, "update catalog item")
	}
	return item, nil
}

// Deactivate hides an item from new purchases; existing requests keep their reference.
func (s *CatalogService) Deactivate(actor access.Actor, id uint) error {
	if err := requireCapability(actor, access.ManageCatalog); err != nil {
		return err
	}
	item, err := s.load(id)
	if err != nil {
		return err
	}
	if err := editable(actor, item); err != nil {
		return err
	}
	return errors.Wrap(s.db.Model(item).Update("is_active", false).Error, "deactivate catalog item")
}

// SetImage stores the public URL of an uploaded item picture and returns the previous one.
func (s *CatalogService) SetImage(actor access.Actor, id uint, url string) (string, error) {
	if err := requireCapability(actor, access.ManageCatalog); err != nil {
		return "", err
	}
	item, err := s.load(id)
	if err != nil {
		return "", err
	}
	if err := editable(actor, item); err != nil {
		return "", err
	}
	old := item.ImageURL
	if err := s.db.Model(item).Update("image_url", url).Error; err != nil {
		return "", errors.Wrap(err, "update catalog image")
	}
	return old, nil
}

// List returns items offered to the actor's center. Non-staff only see active items.
func (s *CatalogService) List(actor access.Actor, f CatalogFilter) ([]models.CatalogItem, int64, error) {
	q := s.db.Model(&models.CatalogItem{})
	if !actor.IsGlobal() {
		q = q.Where("center_id IS NULL OR center_id = ?", actor.CenterOrZero())
	}
	if f.Scope != "" {
		q = q.Where("scope = ?", f.Scope)
	}
	if f.ActiveOnly || !actor.Role.IsStaff() {
		q = q.Where("is_active = ?", true)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count catalog")
	}
	offset, limit := f.normalize()
	var items []models.CatalogItem
	if err := q.Order("name ASC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list catalog")
	}
	return items, total, nil
}
