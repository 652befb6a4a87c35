package config

// DefaultRedactedProperties returns the event property keys whose values are
// never shipped with telemetry. Matching is case-insensitive on the whole key.
// The list covers credentials, payment data, and direct personal identifiers.
func DefaultRedactedProperties() []string {
	return []string{
		// Credentials
		"password",
		"passwd",
		"secret",
		"token",
		"access_token",
		"refresh_token",
		"api_key",
		"apikey",
		"authorization",
		"cookie",
		"session_cookie",

		// Payment
		"card_number",
		"cardnumber",
		"cvv",
		"cvc",
		"iban",
		"account_number",

		// Personal identifiers
		"ssn",
		"email",
		"phone",
		"date_of_birth",
	}
}
