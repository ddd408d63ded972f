package model

// ConsolidatedContact is the single customer view of one cluster.
//
// WIRE QUIRK: the JSON name "primaryContatctId" is misspelled on purpose.
// Existing callers read that exact key, so it must not be "fixed".
type ConsolidatedContact struct {
	PrimaryContactID    int64    `json:"primaryContatctId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse is the body returned by POST /identify.
type IdentifyResponse struct {
	Contact ConsolidatedContact `json:"contact"`
}
