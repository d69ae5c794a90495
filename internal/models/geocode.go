package models

// GeocodeResult is a resolved location. PostalCode is empty when the provider
// gave none and none could be found in the formatted address.
type GeocodeResult struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	PostalCode  string  `json:"postalCode,omitempty"`
	DisplayName string  `json:"displayName"`
}
