package models

import "time"

// Role is a participant's marketplace role, fixed at registration.
type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSeller || r == RoleBuyer || r == RoleAdmin
}

// UserStatus is the operational status an admin can toggle.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

// InvoiceStatus moves one way: open -> negotiating -> sold.
type InvoiceStatus string

const (
	InvoiceOpen        InvoiceStatus = "open"
	InvoiceNegotiating InvoiceStatus = "negotiating"
	InvoiceSold        InvoiceStatus = "sold"
)

// DealStatus is the state of one buyer's negotiation thread.
type DealStatus string

const (
	DealPending     DealStatus = "pending"
	DealNegotiating DealStatus = "negotiating"
	DealAgreed      DealStatus = "agreed"
	DealRejected    DealStatus = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s DealStatus) Terminal() bool {
	return s == DealAgreed || s == DealRejected
}

// Active reports whether the deal holds the invoice's single negotiation slot.
func (s DealStatus) Active() bool {
	return s == DealNegotiating || s == DealAgreed
}

// Company size tiers of the debtor.
const (
	CompanyListed     = "Listed"
	CompanyLarge      = "Large"
	CompanySMB        = "SMB"
	CompanyIndividual = "Individual"
)

// Reserved message participants for system notices.
const (
	SystemSender  = "system"
	BroadcastUser = "all"
)

// User represents a registered participant
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	CompanyName  string     `json:"companyName"`
	Role         Role       `json:"role"`
	Status       UserStatus `json:"status"`
	AvatarURL    string     `json:"avatarUrl,omitempty"`
	Budget       string     `json:"budget,omitempty"`      // buyers only
	AppealPoint  string     `json:"appealPoint,omitempty"` // buyers only
	RegisteredAt time.Time  `json:"registeredAt"`
}

// Invoice represents a receivable listed for sale
type Invoice struct {
	ID              string        `json:"id"`
	SellerID        string        `json:"sellerId"`
	Amount          int64         `json:"amount"` // face value, whole yen
	DueDate         string        `json:"dueDate"`
	Industry        string        `json:"industry"`
	CompanySize     string        `json:"companySize,omitempty"`
	CompanyCredit   string        `json:"companyCredit"`
	RequestedAmount int64         `json:"requestedAmount"`
	EvidenceURL     string        `json:"evidenceUrl,omitempty"`
	EvidenceName    string        `json:"evidenceName,omitempty"`
	Status          InvoiceStatus `json:"status"`
	Version         int           `json:"version"`
	CreatedAt       time.Time     `json:"createdAt"` // used for market ordering
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Deal represents one buyer's negotiation against one invoice
type Deal struct {
	ID                 string     `json:"id"`
	InvoiceID          string     `json:"invoiceId"`
	BuyerID            string     `json:"buyerId"`
	SellerID           string     `json:"sellerId"`
	Status             DealStatus `json:"status"`
	InitialOfferAmount int64      `json:"initialOfferAmount"`
	CurrentAmount      int64      `json:"currentAmount"`
	StartedAt          time.Time  `json:"startedAt"`
	LastActivityAt     time.Time  `json:"lastActivityAt"` // used for tie-break priority
}

// HasParty reports whether userID is the deal's buyer or seller.
func (d *Deal) HasParty(userID string) bool {
	return userID != "" && (d.BuyerID == userID || d.SellerID == userID)
}

// Counterpart returns the other party of the deal.
func (d *Deal) Counterpart(userID string) string {
	if userID == d.BuyerID {
		return d.SellerID
	}
	return d.BuyerID
}

// Message represents one chat turn within a deal
type Message struct {
	ID         string    `json:"id"`
	DealID     string    `json:"dealId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// MarketStatistics is the process-wide market aggregate
type MarketStatistics struct {
	TotalVolume         int64   `json:"totalVolume"`
	CompletedDeals      int64   `json:"completedDeals"`
	AverageDiscountRate float64 `json:"averageDiscountRate"`
	AvgFundingDays      float64 `json:"avgFundingDays"`
	ActiveUsers         int64   `json:"activeUsers"`
	IncidentRate        float64 `json:"incidentRate"`
}
