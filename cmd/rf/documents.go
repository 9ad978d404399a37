package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"repairflow/internal/domain"
	"repairflow/internal/engine"
	"repairflow/internal/export"
	"repairflow/internal/repo"
)

func optypeCmd() *cobra.Command {
	ot := &cobra.Command{
		Use:     "optype",
		Aliases: []string{"operation-type"},
		Short:   "Manage operation types",
	}
	ot.AddCommand(optypeSaveCmd(false), optypeSaveCmd(true), optypeListCmd(), optypeShowCmd())
	return ot
}

func optypeSaveCmd(update bool) *cobra.Command {
	var in engine.OperationTypeInput
	use, short := "create", "Create operation type"
	args := cobra.NoArgs
	if update {
		use, short = "update <id>", "Replace operation type"
		args = cobra.ExactArgs(1)
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var o domain.OperationType
				var err error
				if update {
					in.ID = args[0]
					o, err = e.UpdateOperationType(ctx, in)
				} else {
					o, err = e.CreateOperationType(ctx, in)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Code, "code", "incoming", "incoming, outgoing or internal")
	cmd.Flags().StringVar(&in.SequencePrefix, "prefix", "", "sequence prefix, e.g. BAT/")
	cmd.Flags().IntVar(&in.SequencePadding, "padding", 0, "sequence padding (default 5)")
	cmd.Flags().BoolVar(&in.IsComponentReceivingEnabled, "component-receiving", false, "flag as the component receiving type")
	cmd.Flags().StringVar(&in.SelectService, "service", "", "battery, wheels, ndt or spare")
	return cmd
}

func optypeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List operation types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListOperationTypes(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Code", "Prefix", "Next", "CR", "Service")
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.Name, o.Code, o.SequencePrefix, o.SequenceNext, o.IsComponentReceivingEnabled, categoryLabel(o.SelectService)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func optypeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show operation type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.GetOperationType(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
}

func productCmd() *cobra.Command {
	p := &cobra.Command{Use: "product", Short: "Manage products and their spare parts"}
	p.AddCommand(productCreateCmd(), productUpdateCmd(), productListCmd(), productShowCmd(), spareCmd())
	return p
}

func productCreateCmd() *cobra.Command {
	var in engine.ProductInput
	var cost, price, onHand string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create product",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.StandardPrice, err = parseQty("cost", cost); err != nil {
				return err
			}
			if in.ListPrice, err = parseQty("price", price); err != nil {
				return err
			}
			if in.QtyAvailable, err = parseQty("on-hand", onHand); err != nil {
				return err
			}
			in.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProduct(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "product id (default: generated)")
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.UOM, "uom", "unit", "unit of measure")
	cmd.Flags().StringVar(&in.ServiceCategory, "service", "", "battery, wheels, ndt or spare")
	cmd.Flags().BoolVar(&in.IsSpareparts, "spare", false, "usable as a spare part")
	cmd.Flags().StringVar(&cost, "cost", "", "standard price")
	cmd.Flags().StringVar(&price, "price", "", "list price")
	cmd.Flags().StringVar(&onHand, "on-hand", "", "quantity available")
	return cmd
}

func productUpdateCmd() *cobra.Command {
	var name, uom, service, cost, price, onHand string
	var spare bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update product fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.ProductUpdate{
				ID:              args[0],
				Name:            optionalString(cmd, "name", name),
				UOM:             optionalString(cmd, "uom", uom),
				ServiceCategory: optionalString(cmd, "service", service),
				ActorID:         actorID(),
			}
			if cmd.Flags().Changed("spare") {
				upd.IsSpareparts = &spare
			}
			var err error
			if upd.StandardPrice, err = optionalQty(cmd, "cost", cost); err != nil {
				return err
			}
			if upd.ListPrice, err = optionalQty(cmd, "price", price); err != nil {
				return err
			}
			if upd.QtyAvailable, err = optionalQty(cmd, "on-hand", onHand); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProduct(ctx, upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&uom, "uom", "", "unit of measure")
	cmd.Flags().StringVar(&service, "service", "", "battery, wheels, ndt, spare or empty to clear")
	cmd.Flags().BoolVar(&spare, "spare", false, "usable as a spare part")
	cmd.Flags().StringVar(&cost, "cost", "", "standard price")
	cmd.Flags().StringVar(&price, "price", "", "list price")
	cmd.Flags().StringVar(&onHand, "on-hand", "", "quantity available")
	return cmd
}

func productListCmd() *cobra.Command {
	var sparesOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProducts(ctx, sparesOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "UOM", "Service", "Spare", "Cost", "Price", "On hand")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.UOM, categoryLabel(p.ServiceCategory), p.IsSpareparts, p.StandardPrice, p.ListPrice, p.QtyAvailable})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&sparesOnly, "spares", false, "only spare parts")
	return cmd
}

func productShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProduct(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func spareCmd() *cobra.Command {
	spare := &cobra.Command{Use: "spare", Short: "Spare parts of a product"}
	spare.AddCommand(&cobra.Command{
		Use:   "list <product-id>",
		Short: "List spare parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.SparePartsLines(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Line", "Spare", "UOM", "Cost", "Price", "On hand")
				for _, l := range items {
					tw.AppendRow(table.Row{l.ID, l.SpareName, l.SpareUOM, l.Cost, l.SalesPrice, l.QuantityOnHand})
				}
				tw.Render()
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "add <product-id> <spare-product-id>",
		Short: "Link a spare part",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.AddSparePartsLine(ctx, engine.SparePartsLineInput{ProductID: args[0], SpareProductID: args[1], ActorID: actorID()})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}, &cobra.Command{
		Use:   "remove <product-id> <line-id>",
		Short: "Unlink a spare part",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveSparePartsLine(ctx, args[0], args[1], actorID())
			})
		},
	})
	return spare
}

func receiptCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "receipt",
		Short: "Manage receipts",
		Long:  "A component receipt is a receipt whose CR operation type is flagged for component receiving. It starts in draft and waits for the 'Repair Order received?' decision.",
	}
	r.AddCommand(receiptCreateCmd(), receiptUpdateCmd(), receiptListCmd(), receiptShowCmd(), receiptCopyCmd(), receiptDecideCmd(), receiptFollowUpCmd())
	return r
}

// parseMove reads product[:demand[:done]].
func parseMove(raw string) (engine.ReceiptMoveInput, error) {
	parts := strings.Split(raw, ":")
	if len(parts) > 3 || parts[0] == "" {
		return engine.ReceiptMoveInput{}, fmt.Errorf("--move %q: expected product[:demand[:done]]", raw)
	}
	m := engine.ReceiptMoveInput{ProductID: parts[0]}
	var err error
	if len(parts) > 1 {
		if m.ProductUOMQty, err = parseQty("move demand", parts[1]); err != nil {
			return m, err
		}
	}
	if len(parts) > 2 {
		if m.Quantity, err = parseQty("move quantity", parts[2]); err != nil {
			return m, err
		}
	}
	return m, nil
}

func receiptCreateCmd() *cobra.Command {
	var in engine.ReceiptInput
	var moves []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create receipt",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range moves {
				m, err := parseMove(raw)
				if err != nil {
					return err
				}
				in.Moves = append(in.Moves, m)
			}
			in.IsCRDocument = in.CROperationTypeID != ""
			in.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rc, err := e.CreateReceipt(ctx, in)
				if err != nil {
					return err
				}
				return printReceipt(rc)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "reference (default: from the operation type sequence)")
	cmd.Flags().StringVar(&in.PartnerID, "partner", "", "receive from")
	cmd.Flags().StringVar(&in.OwnerID, "owner", "", "assign owner (defaults to partner in component receiving)")
	cmd.Flags().StringVar(&in.Origin, "origin", "", "source document")
	cmd.Flags().StringVar(&in.PickingTypeID, "picking-type", "", "operation type")
	cmd.Flags().StringVar(&in.CROperationTypeID, "cr-type", "", "component receiving operation type")
	cmd.Flags().StringVar(&in.LocationID, "from", "", "source location")
	cmd.Flags().StringVar(&in.LocationDestID, "to", "", "destination location")
	cmd.Flags().StringVar(&in.CompanyID, "company", "", "company")
	cmd.Flags().StringArrayVar(&moves, "move", nil, "product[:demand[:done]] (repeatable)")
	return cmd
}

func receiptUpdateCmd() *cobra.Command {
	var name, partner, owner, origin, pickingType, crType, from, to, company string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update receipt header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.ReceiptUpdate{
				ID:                args[0],
				Name:              optionalString(cmd, "name", name),
				PartnerID:         optionalString(cmd, "partner", partner),
				OwnerID:           optionalString(cmd, "owner", owner),
				Origin:            optionalString(cmd, "origin", origin),
				PickingTypeID:     optionalString(cmd, "picking-type", pickingType),
				CROperationTypeID: optionalString(cmd, "cr-type", crType),
				LocationID:        optionalString(cmd, "from", from),
				LocationDestID:    optionalString(cmd, "to", to),
				CompanyID:         optionalString(cmd, "company", company),
				ActorID:           actorID(),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rc, err := e.UpdateReceipt(ctx, upd)
				if err != nil {
					return err
				}
				return printReceipt(rc)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "reference")
	cmd.Flags().StringVar(&partner, "partner", "", "receive from")
	cmd.Flags().StringVar(&owner, "owner", "", "assign owner")
	cmd.Flags().StringVar(&origin, "origin", "", "source document")
	cmd.Flags().StringVar(&pickingType, "picking-type", "", "operation type")
	cmd.Flags().StringVar(&crType, "cr-type", "", "component receiving operation type")
	cmd.Flags().StringVar(&from, "from", "", "source location")
	cmd.Flags().StringVar(&to, "to", "", "destination location")
	cmd.Flags().StringVar(&company, "company", "", "company")
	return cmd
}

func receiptListCmd() *cobra.Command {
	var f repo.ReceiptFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List receipts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListReceipts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Partner", "Origin", "CR", "State")
				for _, rc := range items {
					tw.AppendRow(table.Row{rc.ID, rc.Name, rc.PartnerID, rc.Origin, rc.IsCRDocument, rc.CRState})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CRState, "state", "", "component receiving state")
	cmd.Flags().BoolVar(&f.CRDocuments, "cr", false, "component receipts only")
	cmd.Flags().StringVar(&f.PartnerID, "partner", "", "partner filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func receiptShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show receipt with its moves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rc, err := e.GetReceipt(ctx, args[0])
				if err != nil {
					return err
				}
				return printReceipt(rc)
			})
		},
	}
}

func receiptCopyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "copy <id>",
		Short: "Duplicate a receipt into a new draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rc, err := e.CopyReceipt(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printReceipt(rc)
			})
		},
	}
}

func receiptDecideCmd() *cobra.Command {
	var received bool
	cmd := &cobra.Command{
		Use:   "decide <id>",
		Short: "Answer 'Repair Order received?'",
		Long:  "--received creates the repair orders now. --received=false moves the receipt to Waiting Create RO and assigns the sales team.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("received") {
				return fmt.Errorf("--received is required (true or false)")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rc, err := e.Decide(ctx, engine.DecisionInput{ReceiptID: args[0], Received: received, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printReceipt(rc)
			})
		},
	}
	cmd.Flags().BoolVar(&received, "received", false, "repair order received")
	return cmd
}

func receiptFollowUpCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "follow-up <id>",
		Short: "Sales: create the repair orders or cancel a waiting receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rc, err := e.FollowUp(ctx, engine.FollowUpInput{ReceiptID: args[0], Action: action, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printReceipt(rc)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "create or cancel")
	return cmd
}

func printReceipt(rc domain.Receipt) error {
	if viper.GetBool("json") {
		return printJSON(rc)
	}
	fmt.Printf("%s  %s  state=%s  partner=%s  origin=%s\n", rc.ID, rc.Name, rc.CRState, rc.PartnerID, rc.Origin)
	tw := newTable("#", "Product", "Demand", "Quantity", "UOM", "Service")
	for _, m := range rc.Moves {
		tw.AppendRow(table.Row{m.Seq, m.ProductName, m.ProductUOMQty, m.Quantity, m.UOM, categoryLabel(m.ServiceCategory)})
	}
	tw.Render()
	return nil
}

func repairCmd() *cobra.Command {
	r := &cobra.Command{Use: "repair", Short: "Manage repair orders"}
	r.AddCommand(repairListCmd(), repairShowCmd(), repairValidateCmd(), repairCancelCmd(), repairAddPartCmd(), repairExportCmd())
	return r
}

func repairListCmd() *cobra.Command {
	var f repo.RepairFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List repair orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListRepairOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Product", "Qty", "State", "Tags")
				for _, ro := range items {
					tw.AppendRow(table.Row{ro.ID, ro.Name, ro.ProductID, ro.ProductQty, ro.State, tagNames(ro.Tags)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ReceiptID, "receipt", "", "originating receipt")
	cmd.Flags().StringVar(&f.State, "state", "", "draft, confirmed or cancel")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func repairShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show repair order with parts and approval lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ro, err := e.GetRepairOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printRepair(ro)
			})
		},
	}
}

func repairValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <id>",
		Short: "Confirm a draft repair order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ro, err := e.ValidateRepair(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printRepair(ro)
			})
		},
	}
}

func repairCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a repair order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ro, err := e.CancelRepair(ctx, engine.CancelRepairInput{RepairID: args[0], Reason: reason, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printRepair(ro)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func repairAddPartCmd() *cobra.Command {
	var in engine.PartInput
	var demand, qty string
	cmd := &cobra.Command{
		Use:   "add-part <id>",
		Short: "Sales: add a part move by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.ProductUOMQty, err = parseQty("demand", demand); err != nil {
				return err
			}
			if in.Quantity, err = parseQty("quantity", qty); err != nil {
				return err
			}
			in.RepairID = args[0]
			in.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pm, err := e.AddPart(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(pm)
			})
		},
	}
	cmd.Flags().StringVar(&in.RepairLineType, "type", domain.LineAdd, "add, remove or other")
	cmd.Flags().StringVar(&in.ProductID, "product", "", "part product")
	cmd.Flags().StringVar(&demand, "demand", "", "demand (default 1)")
	cmd.Flags().StringVar(&qty, "quantity", "", "quantity (default: demand)")
	cmd.Flags().StringVar(&in.UOM, "uom", "", "unit (default: product's)")
	return cmd
}

func repairExportCmd() *cobra.Command {
	var f repo.RepairFilters
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export repair orders to xlsx",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListRepairOrders(ctx, f)
				if err != nil {
					return err
				}
				full := make([]domain.RepairOrder, 0, len(items))
				for _, ro := range items {
					loaded, err := e.GetRepairOrder(ctx, ro.ID)
					if err != nil {
						return err
					}
					full = append(full, loaded)
				}
				fh, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := export.RepairOrders(fh, full); err != nil {
					fh.Close()
					return err
				}
				if err := fh.Close(); err != nil {
					return err
				}
				fmt.Printf("wrote %d repair orders to %s\n", len(full), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ReceiptID, "receipt", "", "originating receipt")
	cmd.Flags().StringVar(&f.State, "state", "", "draft, confirmed or cancel")
	cmd.Flags().IntVar(&f.Limit, "limit", 1000, "max rows")
	cmd.Flags().StringVarP(&out, "out", "o", "repair_orders.xlsx", "output file")
	return cmd
}

func printRepair(ro domain.RepairOrder) error {
	if viper.GetBool("json") {
		return printJSON(ro)
	}
	fmt.Printf("%s  %s  state=%s  product=%s  qty=%s  tags=%s\n", ro.ID, ro.Name, ro.State, ro.ProductID, ro.ProductQty, tagNames(ro.Tags))
	if ro.CancelReason != "" {
		fmt.Println("cancel reason:", ro.CancelReason)
	}
	if len(ro.PartMoves) > 0 {
		tw := newTable("Part", "Type", "Product", "Demand", "Quantity", "UOM")
		for _, pm := range ro.PartMoves {
			tw.AppendRow(table.Row{pm.ID, pm.RepairLineType, pm.ProductID, pm.ProductUOMQty, pm.Quantity, pm.UOM})
		}
		tw.Render()
	}
	if len(ro.ApprovalLines) > 0 {
		tw := newTable("Approval", "Type", "Product", "Demand", "Quantity", "State")
		for _, l := range ro.ApprovalLines {
			tw.AppendRow(table.Row{l.ID, l.RepairLineType, l.ProductID, l.ProductUOMQty, l.Quantity, l.ApproveState})
		}
		tw.Render()
	}
	return nil
}

func tagNames(tags []domain.Tag) string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return strings.Join(names, ",")
}

func approvalCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "approval",
		Short: "Approval lines on repair orders",
		Long:  "Lines move draft -> waiting (send) -> approved or rejected (confirm, sales only). Only draft lines can be edited.",
	}
	a.AddCommand(approvalCreateCmd(), approvalUpdateCmd(), approvalListCmd(), approvalSendCmd(), approvalConfirmCmd())
	return a
}

func approvalCreateCmd() *cobra.Command {
	var in engine.ApprovalLineInput
	var demand, qty string
	cmd := &cobra.Command{
		Use:   "create <repair-id>",
		Short: "Propose a parts change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.ProductUOMQty, err = parseQty("demand", demand); err != nil {
				return err
			}
			if in.Quantity, err = parseQty("quantity", qty); err != nil {
				return err
			}
			in.RepairID = args[0]
			in.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.CreateApprovalLine(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&in.RepairLineType, "type", domain.LineAdd, "add, remove or other")
	cmd.Flags().StringVar(&in.ProductID, "product", "", "part product")
	cmd.Flags().StringVar(&demand, "demand", "", "demand (default 1)")
	cmd.Flags().StringVar(&qty, "quantity", "", "quantity (default: demand)")
	cmd.Flags().StringVar(&in.UOM, "uom", "", "unit (default: product's)")
	return cmd
}

func approvalUpdateCmd() *cobra.Command {
	var lineType, product, demand, qty, uom string
	cmd := &cobra.Command{
		Use:   "update <line-id>",
		Short: "Edit a draft approval line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.ApprovalLineUpdate{
				ID:             args[0],
				RepairLineType: optionalString(cmd, "type", lineType),
				ProductID:      optionalString(cmd, "product", product),
				UOM:            optionalString(cmd, "uom", uom),
				ActorID:        actorID(),
			}
			var err error
			if upd.ProductUOMQty, err = optionalQty(cmd, "demand", demand); err != nil {
				return err
			}
			if upd.Quantity, err = optionalQty(cmd, "quantity", qty); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.UpdateApprovalLine(ctx, upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&lineType, "type", "", "add, remove or other")
	cmd.Flags().StringVar(&product, "product", "", "part product")
	cmd.Flags().StringVar(&demand, "demand", "", "demand")
	cmd.Flags().StringVar(&qty, "quantity", "", "quantity")
	cmd.Flags().StringVar(&uom, "uom", "", "unit")
	return cmd
}

func approvalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <repair-id>",
		Short: "List approval lines of a repair order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ApprovalLines(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Type", "Product", "Demand", "Quantity", "UOM", "State")
				for _, l := range items {
					tw.AppendRow(table.Row{l.ID, l.RepairLineType, l.ProductID, l.ProductUOMQty, l.Quantity, l.UOM, l.ApproveState})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func approvalSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <line-id>",
		Short: "Submit a line for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.SendApprovalRequest(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
}

func approvalConfirmCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "confirm <line-id>",
		Short: "Sales: approve or reject a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, pm, err := e.ConfirmApprovalLine(ctx, engine.ConfirmInput{LineID: args[0], Action: action, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"line": l, "part_move": pm})
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "approve or reject")
	return cmd
}

func parseQty(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return d, fmt.Errorf("%s: %q is not a decimal", field, raw)
	}
	return d, nil
}

func optionalQty(cmd *cobra.Command, flag, raw string) (*decimal.Decimal, error) {
	if !cmd.Flags().Changed(flag) {
		return nil, nil
	}
	d, err := parseQty(flag, raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
