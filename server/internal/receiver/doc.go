// Package receiver implements the reporter API, the HTTP endpoint that
// accepts reports from vigil-agent instances and local health reporters.
//
//	POST   /reporter/{probe}/{node}/            types.ReportRequest
//	DELETE /reporter/{probe}/{node}/{replica}/  forget a reported replica
//
// Push nodes accept load reports, local nodes accept health reports; any
// other node mode answers 400. Unknown probes or nodes answer 404.
// Authentication is enforced upstream by the auth middleware.
package receiver
