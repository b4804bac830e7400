// Package auth authenticates help desk API requests.
//
// Clients send an HS256 JWT in the Authorization header:
//
//	Authorization: Bearer <token>
//
// The "sub" claim carries the numeric user ID. Tokens are issued by the
// external session service, or by helpdesk-admin for operators:
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate(userID, 720*time.Hour)
//
// HTTPAuthMiddleware verifies the token, loads the user, and attaches an
// AuthContext to the request context. Handlers read it back with FromContext.
package auth
