package models

type ManufacturingOrderStatus string

const (
	ManufacturingOrderStatusNotStarted ManufacturingOrderStatus = "not_started"
	ManufacturingOrderStatusInProgress ManufacturingOrderStatus = "in_progress"
	ManufacturingOrderStatusCompleted  ManufacturingOrderStatus = "completed"
)

func (s ManufacturingOrderStatus) IsValid() bool {
	switch s {
	case ManufacturingOrderStatusNotStarted, ManufacturingOrderStatusInProgress, ManufacturingOrderStatusCompleted:
		return true
	}
	return false
}

type BomSource string

const (
	BomSourceOrder    BomSource = "order"
	BomSourceTemplate BomSource = "template"
)

type TimelineEntryType string

const (
	TimelineEntryTypeNote                        TimelineEntryType = "note"
	TimelineEntryTypeManufacturingOrderCompleted TimelineEntryType = "manufacturing_order_completed"
)

type InvoiceStatus string

const (
	InvoiceStatusUnpaid  InvoiceStatus = "unpaid"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusPaid    InvoiceStatus = "paid"
)

// ReferenceType names the table an audit, movement or outbox row points at.
type ReferenceType string

const (
	ReferenceTypeManufacturingOrder ReferenceType = "manufacturing_orders"
	ReferenceTypeProduct            ReferenceType = "products"
	ReferenceTypeProject            ReferenceType = "projects"
	ReferenceTypeInvoice            ReferenceType = "invoices"
)

type PubSubMessageAction string

const (
	PubSubMessageActionCreate PubSubMessageAction = "C"
	PubSubMessageActionUpdate PubSubMessageAction = "U"
	PubSubMessageActionDelete PubSubMessageAction = "D"
)

const (
	sequenceManufacturingOrder = "manufacturing_order"
	sequenceInvoice            = "invoice"
)
