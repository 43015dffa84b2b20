package seeders

import (
	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/utils"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Options controls the bootstrap data. Demo adds a sample center with a halqa and rewards.
type Options struct {
	SuperUsername string
	SuperPassword string
	Demo          bool
}

// SeedAll runs all seeders. Each seeder skips itself when its rows already exist.
func SeedAll(db *gorm.DB, opts Options) error {
	logrus.Info("starting database seeding")
	if err := SeedSuperAdmin(db, opts.SuperUsername, opts.SuperPassword); err != nil {
		return err
	}
	if opts.Demo {
		if err := SeedDemoCenter(db); err != nil {
			return err
		}
	}
	if err := SeedGlobalBadges(db); err != nil {
		return err
	}
	logrus.Info("database seeding completed")
	return nil
}

// SeedSuperAdmin creates the first global administrator.
func SeedSuperAdmin(db *gorm.DB, username, password string) error {
	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", access.RoleSuperAdmin).Count(&count).Error; err != nil {
		return errors.Wrap(err, "count super admins")
	}
	if count > 0 {
		logrus.Info("super admin already seeded, skipping")
		return nil
	}
	if username == "" {
		username = "superadmin"
	}
	if len(password) < 6 {
		return errors.New("super admin password must be at least 6 characters")
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	u := models.User{Username: username, Password: hashed, Role: access.RoleSuperAdmin, Status: models.UserStatusActive}
	if err := db.Create(&u).Error; err != nil {
		return errors.Wrap(err, "seed super admin")
	}
	logrus.WithField("username", username).Info("super admin seeded")
	return nil
}

// SeedDemoCenter adds one center with an admin, a teacher, a halqa and two rewards.
// Demo logins use the password "password123".
func SeedDemoCenter(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Center{}).Count(&count).Error; err != nil {
		return errors.Wrap(err, "count centers")
	}
	if count > 0 {
		logrus.Info("centers already seeded, skipping")
		return nil
	}
	hashed, err := utils.HashPassword("password123")
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	return db.Transaction(func(tx *gorm.DB) error {
		center := models.Center{Name: "مركز تحفيظ القرآن الكريم", Address: "الرياض", Phone: "0110000000", IsActive: true}
		if err := tx.Create(&center).Error; err != nil {
			return errors.Wrap(err, "seed center")
		}
		admin := models.User{Username: "center_admin", Password: hashed, Role: access.RoleCenterAdmin, CenterID: &center.ID, Status: models.UserStatusActive}
		if err := tx.Create(&admin).Error; err != nil {
			return errors.Wrap(err, "seed center admin")
		}
		tu := models.User{Username: "teacher_demo", Password: hashed, Role: access.RoleTeacher, CenterID: &center.ID, Status: models.UserStatusActive}
		if err := tx.Create(&tu).Error; err != nil {
			return errors.Wrap(err, "seed teacher user")
		}
		teacher := models.Teacher{UserID: tu.ID, CenterID: center.ID, FullName: "عبدالله المعلم"}
		if err := tx.Create(&teacher).Error; err != nil {
			return errors.Wrap(err, "seed teacher")
		}
		halqa := models.Halqa{CenterID: center.ID, Name: "حلقة الفجر", TeacherID: &teacher.ID, Capacity: 25, IsActive: true}
		if err := tx.Create(&halqa).Error; err != nil {
			return errors.Wrap(err, "seed halqa")
		}
		stock := 20
		items := []models.CatalogItem{
			{CenterID: &center.ID, Name: "مصحف", PointsCost: 50, Scope: models.ScopeStudent, StockQuantity: &stock, IsActive: true},
			{CenterID: &center.ID, Name: "رحلة جماعية", PointsCost: 500, Scope: models.ScopeGroup, IsActive: true},
		}
		if err := tx.Create(&items).Error; err != nil {
			return errors.Wrap(err, "seed catalog")
		}
		logrus.WithField("center_id", center.ID).Info("demo center seeded")
		return nil
	})
}

// SeedGlobalBadges adds the badges every center can award.
func SeedGlobalBadges(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Badge{}).Where("center_id IS NULL").Count(&count).Error; err != nil {
		return errors.Wrap(err, "count badges")
	}
	if count > 0 {
		return nil
	}
	badges := []models.Badge{
		{
			Name:        "المواظب",
			Description: "حضور عشرين يوما متتالية",
			PointValue:  20,
			Requirement: datatypes.NewJSONType(models.BadgeRequirement{Type: models.RequirementAttendanceStreak, Threshold: 20}),
			IsActive:    true,
		},
		{
			Name:        "المتميز",
			Description: "جمع مئة نقطة",
			PointValue:  10,
			Requirement: datatypes.NewJSONType(models.BadgeRequirement{Type: models.RequirementPointsTotal, Threshold: 100}),
			IsActive:    true,
		},
	}
	return errors.Wrap(db.Create(&badges).Error, "seed badges")
}
