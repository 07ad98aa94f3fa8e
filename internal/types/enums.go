package types

// UserRole identifies an employee's role within the brokerage hierarchy.
// Stored as a string; fetch-config scoping compares roles by this string
// key regardless of how upstream systems represent them.
type UserRole string

const (
	RoleAdmin        UserRole = "ADMIN"
	RoleBranchHead   UserRole = "BRANCH_HEAD"
	RoleSalesManager UserRole = "SALES_MANAGER"
	RoleTeamLead     UserRole = "TL"
	RoleAdvisor      UserRole = "BA"
)

// PaymentStatus tracks a payment through the gateway lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// NotificationKind labels fan-out messages published to the notification
// queue. Delivery (WhatsApp, WebSocket) is handled by external workers.
type NotificationKind string

const (
	NotificationLeadReleased  NotificationKind = "lead_released"
	NotificationPaymentUpdate NotificationKind = "payment_update"
	NotificationDailyStats    NotificationKind = "daily_stats"
)
