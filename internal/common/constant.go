package common

// DateLayout is the only calendar date format accepted on the wire and in
// configuration.
const DateLayout = "2006-01-02"

// AuthorizationHeaderName carries "Bearer <access token>" on API requests.
const AuthorizationHeaderName = "Authorization"
