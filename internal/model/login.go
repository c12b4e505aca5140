package model

import "net/http"

// LoginRequest asks the verification provider to send a one-time password.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// VerifyOTPRequest exchanges a one-time password for an access token.
type VerifyOTPRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	OTP      string `json:"otp"`
}

// UpstreamResult is a verification provider response. Body is left undecoded;
// callers decide how to interpret it.
type UpstreamResult struct {
	Status int
	Header http.Header
	Body   []byte
}
