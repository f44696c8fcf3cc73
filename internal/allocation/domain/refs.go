package domain

// FranchiseRef is a read-only franchise reference for the franchise picker.
type FranchiseRef struct {
	ID          string
	DisplayName string
}

// ProductStock is a point-in-time snapshot of one product's availability for
// a franchise. AvailableQuantity is advisory on the client; the server is
// authoritative at submission time.
type ProductStock struct {
	ProductID         string
	DisplayName       string
	AvailableQuantity int
}

// MerchantRef is a merchant reference scoped to the selected franchise.
type MerchantRef struct {
	ID           string
	DisplayName  string
	ContactEmail string
}

// DeviceRecord represents one serialized unit in franchise custody that is
// eligible for dispatch. The ID is unique within a fetched pool and never
// reused across pools.
type DeviceRecord struct {
	ID                 string
	SerialID           string
	MerchantIdentifier string
	TerminalIdentifier string
	VPAIdentifier      string
}
