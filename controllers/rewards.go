package controllers

import (
	"halaqat_go/middleware"
	"halaqat_go/models"
	"halaqat_go/services"
	"halaqat_go/utils"

	"github.com/gofiber/fiber/v2"
)

// RewardsController serves the ledger, the catalog, purchases, group votes and badges.
type RewardsController struct {
	ledger    *services.LedgerService
	catalog   *services.CatalogService
	purchases *services.PurchaseService
	votes     *services.VoteService
	badges    *services.BadgeService
	uploads   *Uploads
	activity  *middleware.ActivityLogger
}

// RewardServices groups the services behind RewardsController.
type RewardServices struct {
	Ledger    *services.LedgerService
	Catalog   *services.CatalogService
	Purchases *services.PurchaseService
	Votes     *services.VoteService
	Badges    *services.BadgeService
}

func NewRewardsController(s RewardServices, uploads *Uploads, activity *middleware.ActivityLogger) *RewardsController {
	return &RewardsController{
		ledger:    s.Ledger,
		catalog:   s.Catalog,
		purchases: s.Purchases,
		votes:     s.Votes,
		badges:    s.Badges,
		uploads:   uploads,
		activity:  activity,
	}
}

type purchaseRequest struct {
	StudentID uint `json:"student_id"`
	ItemID    uint `json:"item_id" validate:"required"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

type startVoteRequest struct {
	HalqaID uint `json:"halqa_id" validate:"required"`
	ItemID  uint `json:"item_id" validate:"required"`
}

type ballotRequest struct {
	InFavor *bool `json:"in_favor" validate:"required"`
}

type awardRequest struct {
	StudentID uint `json:"student_id" validate:"required"`
}

// ---- ledger ----

func (rc *RewardsController) Balance(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := rc.ledger.Balance(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (rc *RewardsController) GroupBalance(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	points, err := rc.ledger.GroupBalance(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"halqa_id": id, "available_points": points})
}

func (rc *RewardsController) Grant(c *fiber.Ctx) error {
	var in services.GrantInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := rc.ledger.Grant(actor(c), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (rc *RewardsController) history(c *fiber.Ctx, subjectType string) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	page := pagination(c)
	out, total, err := rc.ledger.History(actor(c), subjectType, id, page)
	if err != nil {
		return fail(c, err)
	}
	return utils.Page(c, out, pageMeta(page, total))
}

func (rc *RewardsController) StudentHistory(c *fiber.Ctx) error {
	return rc.history(c, models.SubjectStudent)
}

func (rc *RewardsController) GroupHistory(c *fiber.Ctx) error {
	return rc.history(c, models.SubjectHalqa)
}

// ---- catalog ----

func (rc *RewardsController) ListItems(c *fiber.Ctx) error {
	f := services.CatalogFilter{
		Scope:      c.Query("scope"),
		ActiveOnly: c.QueryBool("active", false),
		Pagination: pagination(c),
	}
	out, total, err := rc.catalog.List(actor(c), f)
	if err != nil {
		return fail(c, err)
	}
	return utils.Page(c, out, pageMeta(f.Pagination, total))
}

func (rc *RewardsController) GetItem(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := rc.catalog.Get(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (rc *RewardsController) CreateItem(c *fiber.Ctx) error {
	var in services.CatalogItemInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := rc.catalog.Create(actor(c), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (rc *RewardsController) UpdateItem(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var in services.CatalogItemInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := rc.catalog.Update(actor(c), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (rc *RewardsController) DeactivateItem(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if err := rc.catalog.Deactivate(actor(c), id); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"id": id, "is_active": false})
}

func (rc *RewardsController) UploadItemImage(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	a := actor(c)
	return rc.uploads.replace(c, "catalog", id, func(url string) (string, error) {
		return rc.catalog.SetImage(a, id, url)
	})
}

// ---- purchases ----

// CreatePurchase lets a student buy for themself; staff may name any student of their center.
func (rc *RewardsController) CreatePurchase(c *fiber.Ctx) error {
	var req purchaseRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	a := actor(c)
	if req.StudentID == 0 && a.StudentID != nil {
		req.StudentID = *a.StudentID
	}
	if req.StudentID == 0 {
		return fail(c, services.NewValidationError("student_id is required", services.FieldError{Field: "student_id", Error: "required"}))
	}
	out, err := rc.purchases.Create(a, req.StudentID, req.ItemID)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (rc *RewardsController) ListPurchases(c *fiber.Ctx) error {
	f := services.PurchaseFilter{
		StudentID:  queryUint(c, "student_id"),
		HalqaID:    queryUint(c, "halqa_id"),
		Status:     c.Query("status"),
		Pagination: pagination(c),
	}
	out, total, err := rc.purchases.List(actor(c), f)
	if err != nil {
		return fail(c, err)
	}
	return utils.Page(c, out, pageMeta(f.Pagination, total))
}

func (rc *RewardsController) GetPurchase(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := rc.purchases.Get(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (rc *RewardsController) DeliverPurchase(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := rc.purchases.Deliver(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (rc *RewardsController) RejectPurchase(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req rejectRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	out, err := rc.purchases.Reject(actor(c), id, req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

// ---- group votes ----

func (rc *RewardsController) StartVote(c *fiber.Ctx) error {
	var req startVoteRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	out, err := rc.votes.Start(actor(c), req.HalqaID, req.ItemID)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (rc *RewardsController) CastVote(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req ballotRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	out, err := rc.votes.Cast(actor(c), id, *req.InFavor)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (rc *RewardsController) ConvertVote(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := rc.votes.Convert(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (rc *RewardsController) GetVote(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	vote, err := rc.votes.Get(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	data := fiber.Map{"vote": vote}
	if a := actor(c); a.StudentID != nil {
		if ballot, err := rc.votes.MyBallot(a, id); err == nil {
			data["my_ballot"] = ballot
		}
	}
	return ok(c, data)
}

func (rc *RewardsController) ListVotes(c *fiber.Ctx) error {
	f := services.VoteFilter{
		HalqaID:    queryUint(c, "halqa_id"),
		Status:     c.Query("status"),
		Pagination: pagination(c),
	}
	out, total, err := rc.votes.List(actor(c), f)
	if err != nil {
		return fail(c, err)
	}
	return utils.Page(c, out, pageMeta(f.Pagination, total))
}

// ---- badges ----

func (rc *RewardsController) ListBadges(c *fiber.Ctx) error {
	out, err := rc.badges.List(actor(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (rc *RewardsController) CreateBadge(c *fiber.Ctx) error {
	var in services.BadgeInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := rc.badges.Create(actor(c), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (rc *RewardsController) DeactivateBadge(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if err := rc.badges.Deactivate(actor(c), id); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"id": id, "is_active": false})
}

func (rc *RewardsController) AwardBadge(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req awardRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	out, err := rc.badges.Award(actor(c), id, req.StudentID)
	if err != nil {
		return fail(c, err)
	}
	rc.activity.Log(c, "AWARD_BADGE", "badges", id, map[string]any{"student_id": req.StudentID})
	return created(c, out)
}

func (rc *RewardsController) StudentBadges(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	a := actor(c)
	awards, err := rc.badges.Awards(a, id)
	if err != nil {
		return fail(c, err)
	}
	data := fiber.Map{"awards": awards}
	if a.Role.IsStaff() {
		if eligible, err := rc.badges.Eligible(a, id); err == nil {
			data["eligible"] = eligible
		}
	}
	return ok(c, data)
}
