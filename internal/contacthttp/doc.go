// Package contacthttp serves the contact form API.
//
// Every visitor is identified by two cookies: ll_vid lives for 400 days and
// scopes the persistent counters, ll_sid lasts for the browser session and
// scopes the session values. Both carry random UUIDs and are parsed before
// use so a forged cookie can never address another visitor's keys.
//
// Routes:
//
//	POST /api/contact/session      form mounted: sanitize storage, note first interaction
//	POST /api/contact/interaction  first interaction with the form
//	GET  /api/contact/status       whether a submission would be accepted now
//	POST /api/contact              submit a message
//
// A denied submission gets 429 with Retry-After and nothing about the limits
// themselves. An accepted submission uses up its slot even if delivery fails.
package contacthttp
