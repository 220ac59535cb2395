// Package tokensource performs OAuth2 token exchanges against a tolino partner.
//
// The partner token endpoints deviate from the standard in ways that require
// custom handling:
//   - The scope must accompany refresh and code grants (golang.org/x/oauth2
//     only sends it on the authorization request)
//   - Requests are only accepted with the webreader Referer
//   - Responses carry a refresh_expires_in lifetime next to expires_in, and
//     every refresh rotates the refresh token
//
// # Exchanger
//
// Build one per partner session:
//
//	ex := tokensource.New(partnerConfig)
//	grant, err := ex.Refresh(ctx, refreshToken)
//
// # Custom Base Transport
//
// Configure a custom base transport or timeout for token requests:
//
//	ex := tokensource.New(
//		partnerConfig,
//		tokensource.WithTransport(customTransport),
//		tokensource.WithTimeout(10*time.Second),
//	)
package tokensource
