package common

// AccessTokenHeaderName is the HTTP header carrying the bearer access token
// on inbound requests.
const AccessTokenHeaderName = "Authorization"
