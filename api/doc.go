/*
Package api holds what the relay server and its clients share: the JSON
request and response types, the error codes that carry store sentinels over
HTTP, and the HTTP server configuration.

The relay itself lives in api/relay and the client in api/clients.

# Error mapping

Every non-2xx JSON response from the relay is an ErrorResponse. Its Code
names the sentinel error the store returned; clients turn it back into the
same sentinel with ErrorFromResponse, so errors.Is works across the wire:

	404 not_found, content_not_found, recipient_not_found
	409 account_exists, duplicate_trustee, recovery_in_progress,
	    invalid_transition, invalid_state, session_closed
	403 unauthorized, not_authorized_share_holder
	400 invalid_input, self_trust
	503 backend_unavailable

# Authentication

Trust relationship routes and share submission require a bearer token
obtained from POST /api/v1/login. The token is issued against the
password verifier, never the password.
*/
package api
