// Package domain defines the data model for the device-allocation workflow:
// the acting operator, the reference data loaded from the inventory service,
// the in-progress selection state, and the pure validation rules over it.
package domain
