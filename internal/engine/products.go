package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"repairflow/internal/domain"
	"repairflow/internal/events"
	"repairflow/internal/notify"
	"repairflow/internal/repo"
)

type ProductInput struct {
	ID              string
	Name            string `validate:"required"`
	UOM             string `validate:"required"`
	ServiceCategory string `validate:"omitempty,oneof=battery wheels ndt spare"`
	IsSpareparts    bool
	StandardPrice   decimal.Decimal
	ListPrice       decimal.Decimal
	QtyAvailable    decimal.Decimal
	ActorID         string `validate:"required"`
}

// ProductUpdate carries only the fields being changed.
type ProductUpdate struct {
	ID              string `validate:"required"`
	Name            *string
	UOM             *string
	ServiceCategory *string
	IsSpareparts    *bool
	StandardPrice   *decimal.Decimal
	ListPrice       *decimal.Decimal
	QtyAvailable    *decimal.Decimal
	ActorID         string `validate:"required"`
}

func categoryOf(code string) *domain.ServiceCategory {
	if code == "" {
		return nil
	}
	c := domain.ServiceCategory(code)
	return &c
}

func spareToggleNotice(name string, on bool) notify.Notification {
	if on {
		return notify.Notification{Message: fmt.Sprintf("Product '%s' is now Spare Parts", name), Type: notify.TypeSuccess}
	}
	return notify.Notification{Message: fmt.Sprintf("Product '%s' is no longer Spare Parts", name), Type: notify.TypeWarning}
}

func (e Engine) CreateProduct(ctx context.Context, in ProductInput) (domain.Product, error) {
	if err := checkInput(in); err != nil {
		return domain.Product{}, err
	}
	if in.StandardPrice.IsNegative() || in.ListPrice.IsNegative() {
		return domain.Product{}, precondition("prices must not be negative")
	}
	now := e.stamp()
	p := domain.Product{
		ID:              in.ID,
		Name:            in.Name,
		UOM:             in.UOM,
		ServiceCategory: categoryOf(in.ServiceCategory),
		IsSpareparts:    in.IsSpareparts,
		StandardPrice:   in.StandardPrice,
		ListPrice:       in.ListPrice,
		QtyAvailable:    in.QtyAvailable,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.ID == "" {
		p.ID = newID()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProduct(ctx, tx, p); err != nil {
		if repo.IsUniqueViolation(err) {
			return p, precondition("product %s already exists", p.ID)
		}
		return p, err
	}
	if err := e.events().Append(ctx, tx, events.TypeProductSaved, KindProduct, p.ID, in.ActorID, events.EventPayload{
		"name": p.Name, "is_spareparts": p.IsSpareparts,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	if p.IsSpareparts {
		e.flush(ctx, outbox{{userID: in.ActorID, n: spareToggleNotice(p.Name, true)}})
	}
	return p, nil
}

func (e Engine) UpdateProduct(ctx context.Context, upd ProductUpdate) (domain.Product, error) {
	if err := checkInput(upd); err != nil {
		return domain.Product{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Product{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProduct(ctx, tx, upd.ID)
	if err != nil {
		return p, err
	}
	wasSpare := p.IsSpareparts
	if upd.Name != nil {
		if *upd.Name == "" {
			return p, precondition("Name is required")
		}
		p.Name = *upd.Name
	}
	if upd.UOM != nil {
		if *upd.UOM == "" {
			return p, precondition("UOM is required")
		}
		p.UOM = *upd.UOM
	}
	if upd.ServiceCategory != nil {
		if *upd.ServiceCategory != "" && !domain.ServiceCategory(*upd.ServiceCategory).Valid() {
			return p, precondition("unknown service category %q", *upd.ServiceCategory)
		}
		p.ServiceCategory = categoryOf(*upd.ServiceCategory)
	}
	if upd.IsSpareparts != nil {
		p.IsSpareparts = *upd.IsSpareparts
	}
	if upd.StandardPrice != nil {
		p.StandardPrice = *upd.StandardPrice
	}
	if upd.ListPrice != nil {
		p.ListPrice = *upd.ListPrice
	}
	if upd.QtyAvailable != nil {
		p.QtyAvailable = *upd.QtyAvailable
	}
	if p.StandardPrice.IsNegative() || p.ListPrice.IsNegative() {
		return p, precondition("prices must not be negative")
	}
	p.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateProduct(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.events().Append(ctx, tx, events.TypeProductSaved, KindProduct, p.ID, upd.ActorID, events.EventPayload{
		"name": p.Name, "is_spareparts": p.IsSpareparts,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	if upd.IsSpareparts != nil && wasSpare != p.IsSpareparts {
		e.flush(ctx, outbox{{userID: upd.ActorID, n: spareToggleNotice(p.Name, p.IsSpareparts)}})
	}
	return p, nil
}

func (e Engine) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return e.Repo.GetProduct(ctx, e.DB, id)
}

func (e Engine) ListProducts(ctx context.Context, sparesOnly bool) ([]domain.Product, error) {
	return e.Repo.ListProducts(ctx, e.DB, sparesOnly)
}

type SparePartsLineInput struct {
	ProductID      string `validate:"required"`
	SpareProductID string `validate:"required"`
	ActorID        string `validate:"required"`
}

// AddSparePartsLine links a spare part to a product. The spare must be
// flagged as spare parts.
func (e Engine) AddSparePartsLine(ctx context.Context, in SparePartsLineInput) (domain.SparePartsLine, error) {
	if err := checkInput(in); err != nil {
		return domain.SparePartsLine{}, err
	}
	if in.ProductID == in.SpareProductID {
		return domain.SparePartsLine{}, precondition("a product cannot be its own spare part")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SparePartsLine{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProduct(ctx, tx, in.ProductID)
	if err != nil {
		return domain.SparePartsLine{}, err
	}
	spare, err := e.Repo.GetProduct(ctx, tx, in.SpareProductID)
	if err != nil {
		return domain.SparePartsLine{}, err
	}
	if !spare.IsSpareparts {
		return domain.SparePartsLine{}, precondition("Product '%s' is not marked as Spare Parts.", spare.Name)
	}
	l := domain.SparePartsLine{
		ID:             newID(),
		ProductID:      p.ID,
		SpareProductID: spare.ID,
		CreatedAt:      e.stamp(),
	}
	if err := e.Repo.InsertSparePartsLine(ctx, tx, l); err != nil {
		if repo.IsUniqueViolation(err) {
			return l, precondition("Spare part '%s' is already listed on '%s'.", spare.Name, p.Name)
		}
		return l, err
	}
	if err := e.events().Append(ctx, tx, events.TypeSparePartsChanged, KindProduct, p.ID, in.ActorID, events.EventPayload{
		"added": spare.ID,
	}); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	l.SpareName = spare.Name
	l.SpareUOM = spare.UOM
	l.Cost = spare.StandardPrice
	l.SalesPrice = spare.ListPrice
	l.QuantityOnHand = spare.QtyAvailable
	return l, nil
}

func (e Engine) RemoveSparePartsLine(ctx context.Context, productID, lineID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSparePartsLine(ctx, tx, productID, lineID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.TypeSparePartsChanged, KindProduct, productID, actorID, events.EventPayload{
		"removed_line": lineID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) SparePartsLines(ctx context.Context, productID string) ([]domain.SparePartsLine, error) {
	if _, err := e.Repo.GetProduct(ctx, e.DB, productID); err != nil {
		return nil, err
	}
	return e.Repo.SparePartsLines(ctx, e.DB, productID)
}
