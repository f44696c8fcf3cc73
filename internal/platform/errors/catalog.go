package errors

import (
	"bytes"
	"text/template"
)

// messages maps error codes to user-facing message templates. The console is
// single-locale; templates render Metadata fields by name.
var messages = map[Code]string{
	CodeUnknown:                   "An unexpected error occurred.",
	CodeFranchiseRequired:         "Select a franchise.",
	CodeProductRequired:           "Select a product.",
	CodeQuantityRequired:          "Enter a quantity.",
	CodeQuantityNotPositive:       "Quantity must be a positive number.",
	CodeQuantityExceedsStock:      "Quantity exceeds available stock ({{.Available}} in stock).",
	CodeMerchantRequired:          "Select a merchant.",
	CodeDeviceSelectionIncomplete: "Select {{.Required}} devices ({{.Selected}} selected).",
	CodeDeviceSelectionStale:      "The device list is out of date. Fetch devices again.",
	CodeRoleLocked:                "Your account is restricted to its own franchise.",
	CodeProductUnknown:            "The selected product is not available for this franchise.",
	CodeMerchantUnknown:           "The selected merchant is not available for this franchise.",
	CodeDeviceNotInPool:           "That device is no longer in the dispatchable pool.",
	CodeDeviceLimitReached:        "You already selected the requested number of devices.",
	CodePoolFetchNotReady:         "Choose a product and quantity before fetching devices.",
	CodeSubmissionBlocked:         "Fix the highlighted fields before submitting.",
	CodeSubmissionInProgress:      "An allocation is already being submitted.",
	CodeTransportFailure:          "Could not reach the inventory service. Try again.",
	CodeStockInsufficient:         "Stock changed while you were working. Fetch devices again.",
	CodeMerchantInactive:          "The selected merchant has been deactivated.",
	CodeAllocationInvalid:         "The allocation request was rejected as invalid.",
	CodeNotFound:                  "The requested record was not found.",
	CodeUnauthenticated:           "Sign in to continue.",
	CodePermissionDenied:          "You do not have access to this resource.",
}

// UserMessage renders the user-facing message for an error. Unknown codes and
// template failures fall back to the generic message so internal text never
// leaks to operators.
func UserMessage(err error) string {
	code := GetCode(err)
	tmplText, ok := messages[code]
	if !ok {
		return messages[CodeUnknown]
	}

	metadata := GetMetadata(err)
	tmpl, parseErr := template.New(string(code)).Parse(tmplText)
	if parseErr != nil {
		return messages[CodeUnknown]
	}
	var buf bytes.Buffer
	if execErr := tmpl.Execute(&buf, metadata); execErr != nil {
		return messages[CodeUnknown]
	}
	return buf.String()
}
